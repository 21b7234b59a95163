package eventapi

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/linnemanlabs/plume/internal/emissions"
)

type importResponse struct {
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
	BatchID  string `json:"batch_id"`
	Message  string `json:"message"`
}

func (a *API) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes)
	if err := r.ParseMultipartForm(a.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeMessage(w, http.StatusBadRequest, "expected multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // temp files only

	f, fh, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer f.Close()

	if !strings.EqualFold(filepath.Ext(fh.Filename), ".csv") {
		writeMessage(w, http.StatusBadRequest, "only .csv files are accepted")
		return
	}

	res, err := a.svc.Import(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err, "failed to import events", "filename", fh.Filename)
		return
	}
	writeJSON(w, http.StatusOK, importResponse{
		Imported: res.Imported,
		Skipped:  res.Skipped,
		BatchID:  res.BatchID,
		Message:  importMessage(res),
	})
}

func importMessage(res emissions.ImportResult) string {
	return fmt.Sprintf("Imported %d event(s); skipped %d duplicate(s)", res.Imported, res.Skipped)
}

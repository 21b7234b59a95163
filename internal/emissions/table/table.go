// Package table converts between the CSV backing files and emissions records.
package table

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/plume/internal/emissions"
)

// AssetColumns is the assets file header.
var AssetColumns = []string{"site_id", "site_name", "operator", "lat", "lon"}

// EventColumns is the canonical events file header, in write order.
var EventColumns = []string{
	"id",
	"site_id",
	"detected_at_utc",
	"detection_type",
	"est_ch4_kgph",
	"confidence",
	"lat",
	"lon",
	"status",
	"investigation_started_utc",
	"report_submitted_utc",
	"notes",
}

// ImportRequiredColumns must be present in every events payload. The
// lifecycle timestamps and notes are optional and default to null/empty.
var ImportRequiredColumns = EventColumns[:9:9]

// header maps column names to record positions.
type header map[string]int

func readHeader(r *csv.Reader) (header, error) {
	names, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h := make(header, len(names))
	for i, name := range names {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		h[strings.TrimSpace(name)] = i
	}
	return h, nil
}

// missing returns the columns of want absent from h, in want order.
func (h header) missing(want []string) []string {
	var out []string
	for _, col := range want {
		if _, ok := h[col]; !ok {
			out = append(out, col)
		}
	}
	return out
}

// get returns the trimmed cell for col, or "" when the column is absent.
func (h header) get(rec []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	return cr
}

// ReadAssets decodes an assets file.
func ReadAssets(r io.Reader) ([]emissions.Asset, error) {
	cr := newReader(r)
	h, err := readHeader(cr)
	if err != nil {
		return nil, err
	}
	if miss := h.missing(AssetColumns); len(miss) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(miss, ", "))
	}

	var assets []emissions.Asset
	seen := make(map[string]struct{})
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}

		a := emissions.Asset{
			SiteID:   h.get(rec, "site_id"),
			SiteName: h.get(rec, "site_name"),
			Operator: h.get(rec, "operator"),
		}
		if a.SiteID == "" {
			return nil, fmt.Errorf("row %d: site_id is required", row)
		}
		if _, dup := seen[a.SiteID]; dup {
			return nil, fmt.Errorf("row %d: duplicate site_id %q", row, a.SiteID)
		}
		seen[a.SiteID] = struct{}{}

		if a.Lat, err = parseFloat(h.get(rec, "lat")); err != nil {
			return nil, fmt.Errorf("row %d: lat: %w", row, err)
		}
		if a.Lon, err = parseFloat(h.get(rec, "lon")); err != nil {
			return nil, fmt.Errorf("row %d: lon: %w", row, err)
		}
		assets = append(assets, a)
	}
	return assets, nil
}

// ReadEvents decodes an events backing file. Event ids must be unique.
func ReadEvents(r io.Reader) ([]*emissions.Event, error) {
	events, err := readEvents(r)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if _, dup := seen[ev.ID]; dup {
			return nil, fmt.Errorf("duplicate event id %q", ev.ID)
		}
		seen[ev.ID] = struct{}{}
	}
	return events, nil
}

// ParseImport decodes an uploaded events payload. Every failure wraps
// emissions.ErrValidation. Ids are not deduplicated here; that is the
// store's job since it depends on what is already stored.
func ParseImport(r io.Reader) ([]*emissions.Event, error) {
	events, err := readEvents(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", emissions.ErrValidation, err)
	}
	return events, nil
}

func readEvents(r io.Reader) ([]*emissions.Event, error) {
	cr := newReader(r)
	h, err := readHeader(cr)
	if err != nil {
		return nil, err
	}
	if miss := h.missing(ImportRequiredColumns); len(miss) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(miss, ", "))
	}

	var events []*emissions.Event
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		ev, err := decodeEvent(h, rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func decodeEvent(h header, rec []string) (*emissions.Event, error) {
	row := eventRow{
		ID:            h.get(rec, "id"),
		SiteID:        h.get(rec, "site_id"),
		DetectionType: h.get(rec, "detection_type"),
		Status:        h.get(rec, "status"),
	}

	var err error
	for _, f := range []struct {
		col string
		dst *float64
	}{
		{"est_ch4_kgph", &row.Rate},
		{"confidence", &row.Confidence},
		{"lat", &row.Lat},
		{"lon", &row.Lon},
	} {
		if *f.dst, err = parseFloat(h.get(rec, f.col)); err != nil {
			return nil, fmt.Errorf("%s: %w", f.col, err)
		}
	}

	if err := row.validate(); err != nil {
		return nil, err
	}

	ev := &emissions.Event{
		ID:                     row.ID,
		SiteID:                 row.SiteID,
		DetectionType:          emissions.DetectionType(row.DetectionType),
		EstCH4KgPerHour:        row.Rate,
		Confidence:             row.Confidence,
		Lat:                    row.Lat,
		Lon:                    row.Lon,
		Status:                 emissions.Status(row.Status),
		InvestigationStartedAt: emissions.ParseTimestampPtr(h.get(rec, "investigation_started_utc")),
		ReportSubmittedAt:      emissions.ParseTimestampPtr(h.get(rec, "report_submitted_utc")),
		Notes:                  emissions.ParseNotes(h.get(rec, "notes")),
	}
	if ts, ok := emissions.ParseTimestamp(h.get(rec, "detected_at_utc")); ok {
		ev.DetectedAt = ts
	}
	return ev, nil
}

// WriteEvents encodes events as a complete events file in canonical column order.
func WriteEvents(w io.Writer, events []*emissions.Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EventColumns); err != nil {
		return err
	}
	for _, ev := range events {
		notes, err := encodeNotes(ev.Notes)
		if err != nil {
			return fmt.Errorf("event %q: %w", ev.ID, err)
		}
		rec := []string{
			ev.ID,
			ev.SiteID,
			emissions.FormatTimestamp(ev.DetectedAt),
			string(ev.DetectionType),
			formatFloat(ev.EstCH4KgPerHour),
			formatFloat(ev.Confidence),
			formatFloat(ev.Lat),
			formatFloat(ev.Lon),
			string(ev.Status),
			formatTimePtr(ev.InvestigationStartedAt),
			formatTimePtr(ev.ReportSubmittedAt),
			notes,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func encodeNotes(n emissions.Notes) (string, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, errors.New("value is required")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("non-finite number %q", s)
	}
	return v, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return emissions.FormatTimestamp(*t)
}

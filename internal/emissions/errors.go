package emissions

import "github.com/linnemanlabs/go-core/xerrors"

// Failure classes surfaced by stores and the service. Implementations wrap
// them with context, callers match with errors.Is.
var (
	// ErrNotFound means an unknown asset or event id.
	ErrNotFound = xerrors.New("not found")

	// ErrValidation means an import payload or request argument is invalid.
	ErrValidation = xerrors.New("validation failed")

	// ErrPersistence means the backing store could not be written.
	ErrPersistence = xerrors.New("persistence failed")

	// ErrStartup means the store could not load its backing data.
	ErrStartup = xerrors.New("store startup failed")

	// ErrAssistantUnavailable means no assistant is configured or it failed.
	ErrAssistantUnavailable = xerrors.New("assistant unavailable")
)

package apperror

import "errors"

var (
	ErrInvalidIdentifier  = errors.New("invalid identifier")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrAssemblyFailed     = errors.New("assembly failed")
	ErrNotFound           = errors.New("not found")
)

// Kind returns a short name for the error kind of err, or "internal" when err
// does not wrap one of the sentinel errors.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidIdentifier):
		return "InvalidIdentifier"
	case errors.Is(err, ErrStorageUnavailable):
		return "StorageUnavailable"
	case errors.Is(err, ErrAssemblyFailed):
		return "AssemblyFailed"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	default:
		return "internal"
	}
}

package vault

import "errors"

// Error classes. Every failed operation wraps exactly one of these and
// leaves the vault unchanged.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrOutOfRange       = errors.New("out of range")
)

// Class returns the name of the error class of err, or "internal".
func Class(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	default:
		return "internal"
	}
}

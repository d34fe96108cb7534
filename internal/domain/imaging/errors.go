package imaging

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/journalsystem/imageservice/internal/platform/overlay"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrInvalidShape        = overlay.ErrInvalidShape
	ErrStorageWrite        = errors.New("storage write failed")
	ErrStorageRead         = errors.New("storage read failed")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrTransform           = errors.New("image transform failed")
	ErrTimeout             = errors.New("operation timed out")
	ErrFileTooLarge        = errors.New("file too large")
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// StatusCode maps a service error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidShape):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, overlay.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

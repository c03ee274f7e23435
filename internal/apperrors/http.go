package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPStatus maps an error to the appropriate HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTPStatus classifies a platform response status. Server errors and
// throttling are transient; client errors are not.
func FromHTTPStatus(op string, code int, body string) error {
	cause := fmt.Errorf("HTTP %d: %s", code, body)
	switch {
	case code == http.StatusNotFound:
		return &Error{Sentinel: ErrNotFound, Message: fmt.Sprintf("%s: not found", op), Op: op, Cause: cause}
	case code == http.StatusConflict:
		return &Error{Sentinel: ErrConflict, Message: fmt.Sprintf("%s: conflict", op), Op: op, Cause: cause}
	case code == http.StatusTooManyRequests || code >= 500:
		return Wrap(ErrPlatformUnavailable, op, cause)
	default:
		return &Error{Sentinel: ErrValidation, Message: fmt.Sprintf("%s: rejected: %v", op, cause), Op: op, Cause: cause}
	}
}

package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrUnsupported     = errors.New("unsupported")
	ErrValidation      = errors.New("validation failed")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrTransient       = errors.New("transient failure")
	ErrDownloadFailed  = errors.New("download failed")
	ErrTranscodeFailed = errors.New("transcode failed")
	ErrStorageFailed   = errors.New("storage failed")
	ErrRateLimited     = errors.New("rate limited")
	ErrUpstream        = errors.New("vendor unavailable")
	ErrNotFound        = errors.New("not found")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// HTTPStatus maps a boundary-crossing error to the status code reported to
// API callers.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnsupported), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthFailed):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTranscodeFailed):
		return http.StatusInternalServerError
	case errors.Is(err, ErrDownloadFailed), errors.Is(err, ErrStorageFailed), errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsTerminal reports whether err must propagate immediately instead of being
// retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrAuthFailed) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnsupported) ||
		errors.Is(err, ErrNotFound)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

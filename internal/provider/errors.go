package provider

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnavailable       = errors.New("provider unavailable")
	ErrNotFound          = errors.New("not found")
	ErrMalformedResponse = errors.New("malformed provider response")
	ErrInvalidCommand    = errors.New("invalid device command")
)

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: provider returned %d", e.Method, e.Path, e.Code)
}

// Is lets errors.Is(err, ErrNotFound) match a 404.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gezibash/drop/internal/object"
)

var (
	// ErrInvalidInput reports a missing or malformed request field.
	ErrInvalidInput = errors.New("invalid input")

	// ErrForbidden reports a failed password gate.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound reports an unknown id or key, or bytes that are gone.
	ErrNotFound = errors.New("not found")

	// ErrPayloadTooLarge reports an upload over the size limit.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// BackendError reports that one or more named backends failed a write or read.
type BackendError struct {
	Backends []object.Kind
	Err      error
}

func (e *BackendError) Error() string {
	names := make([]string, len(e.Backends))
	for i, b := range e.Backends {
		names[i] = string(b)
	}
	noun := "backend"
	if len(names) > 1 {
		noun = "backends"
	}
	return fmt.Sprintf("%s %s failed: %v", noun, strings.Join(names, ", "), e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Kind labels the error for metrics.
func (e *BackendError) Kind() string { return "backend" }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

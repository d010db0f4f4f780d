package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyResponse is returned when a provider answers with no content.
var ErrEmptyResponse = errors.New("empty response")

// GenerationError wraps a failed generation call.
type GenerationError struct {
	Provider string
	Status   int // HTTP status when known, 0 otherwise
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s generate: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s generate: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Transient reports whether retrying the call may succeed.
func (e *GenerationError) Transient() bool { return transient(e.Status, e.Err) }

// EmbeddingError wraps a failed embedding call.
type EmbeddingError struct {
	Provider string
	Status   int
	Err      error
}

func (e *EmbeddingError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s embed: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s embed: %v", e.Provider, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Transient reports whether retrying the call may succeed.
func (e *EmbeddingError) Transient() bool { return transient(e.Status, e.Err) }

// ErrNotSupported marks a capability the provider lacks. It is never transient.
var ErrNotSupported = errors.New("not supported")

func transient(status int, err error) bool {
	if errors.Is(err, ErrNotSupported) || errors.Is(err, context.Canceled) {
		return false
	}
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	case status >= 400:
		return false
	}
	// No status: network failures, timeouts, empty or truncated responses.
	return true
}

// IsTransient reports whether err is worth retrying. Errors that do not
// describe themselves are treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	return !errors.Is(err, context.Canceled)
}

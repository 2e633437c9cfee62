package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Store represents a flat key-value store of opaque blobs. Implementations
// must be safe for concurrent use.
type Store interface {
	// Get should return ErrNotFound if the key is not in the store. A key
	// stored with an empty value yields a non-nil empty slice.
	Get(ctx context.Context, key string) (value []byte, err error)

	// Put stores the value at the key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes the key. Deleting a key that is not in the store succeeds.
	Delete(ctx context.Context, key string) error
}

var (
	// ErrNotFound indicates a key is not in the store.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indicates the backend could not be reached.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrTimeout indicates the backend did not reply in time.
	ErrTimeout = errors.New("backend timeout")

	// ErrInvalidKey is returned by stores that map keys onto a namespace with
	// structure (e.g., file names) for keys that would escape it.
	ErrInvalidKey = errors.New("invalid key")

	// ErrShutdown is returned by stores that have been stopped.
	ErrShutdown = errors.New("shutdown")
)

// StatusError is an error reported by a backend that speaks HTTP, retaining
// the status code the backend replied with.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Code)
	}
	return e.Message
}

// StatusCode returns the backend's status code.
func (e *StatusError) StatusCode() int {
	return e.Code
}

// CheckKey verifies that key can be used as a single file name.
func CheckKey(key string) error {
	switch {
	case key == "", key == ".", key == "..":
	case strings.ContainsAny(key, "/\\\x00"):
	default:
		return nil
	}
	return fmt.Errorf("%.40q: %w", key, ErrInvalidKey)
}

func dup(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

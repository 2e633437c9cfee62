package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// MaxKeyLength is the longest key accepted, in bytes.
const MaxKeyLength = 1024

// ErrInvalidKey is returned for paths that don't name a key.
var ErrInvalidKey = errors.New("invalid key")

// DeriveKey returns the key named by a request path: the path minus one
// leading slash. The key must be a single segment that can't be resolved to
// something outside the store's namespace.
func DeriveKey(rawPath string) (string, error) {
	key := strings.TrimPrefix(rawPath, "/")
	switch {
	case key == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	case key == ".", key == "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	case strings.ContainsAny(key, "/\\\x00"):
		return "", fmt.Errorf("%w: %.40q is not a single path segment", ErrInvalidKey, key)
	case len(key) > MaxKeyLength:
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, MaxKeyLength)
	}
	return key, nil
}

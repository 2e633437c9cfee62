package gateway_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/nicolagi/blobgate/gateway"
	"github.com/stretchr/testify/assert"
)

func TestDeriveKey(t *testing.T) {
	valid := map[string]string{
		"/file":        "file",
		"/unknown.txt": "unknown.txt",
		"/..hidden":    "..hidden",
		"/a..b":        "a..b",
		"/.profile":    ".profile",
		"no-slash":     "no-slash",
		"/with space":  "with space",
	}
	for path, want := range valid {
		t.Run(path, func(t *testing.T) {
			key, err := gateway.DeriveKey(path)
			assert.Nil(t, err)
			assert.Equal(t, want, key)
			again, _ := gateway.DeriveKey(path)
			assert.Equal(t, key, again, "deterministic")
		})
	}

	invalid := []string{
		"",
		"/",
		"/.",
		"/..",
		"//",
		"//etc/passwd",
		"/../etc/passwd",
		"/a/b",
		"/a/../b",
		`/..\windows`,
		"/nul\x00byte",
		"/" + strings.Repeat("k", gateway.MaxKeyLength+1),
	}
	for _, path := range invalid {
		t.Run(path, func(t *testing.T) {
			key, err := gateway.DeriveKey(path)
			assert.True(t, errors.Is(err, gateway.ErrInvalidKey), "got %v", err)
			assert.Equal(t, "", key)
		})
	}

	t.Run("longest key", func(t *testing.T) {
		_, err := gateway.DeriveKey("/" + strings.Repeat("k", gateway.MaxKeyLength))
		assert.Nil(t, err)
	})
}

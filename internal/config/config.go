// Package config loads the configuration of the blobgate commands: an
// optional rjson file, overridden by prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/rogpeppe/rjson"
)

// Load decodes the file at pathname into target, which must be a pointer to
// a struct, then applies overrides from environment variables whose names
// start with envPrefix. A missing file is an error only if required.
func Load(pathname string, required bool, envPrefix string, target any) error {
	f, err := os.Open(pathname)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !required:
	case err != nil:
		return err
	default:
		defer func() {
			_ = f.Close()
		}()
		if err := rjson.NewDecoder(f).Decode(target); err != nil {
			return fmt.Errorf("%s: %w", pathname, err)
		}
	}
	if err := env.ParseWithOptions(target, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return nil
}

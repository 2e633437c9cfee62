package main

import (
	"fmt"
	"os"

	"github.com/nicolagi/blobgate/cache/server"
	cfgload "github.com/nicolagi/blobgate/internal/config"
)

type config struct {
	Listen string `json:"listen" env:"LISTEN"`
	Debug  bool   `json:"debug" env:"DEBUG"`

	// Either "memory" or "bolt".
	Store string `json:"store" env:"STORE"`
	Path  string `json:"path" env:"PATH"`

	// Largest value accepted in a PUT, in bytes.
	MaxValueSize uint64 `json:"max_value_size" env:"MAX_VALUE_SIZE"`
}

func loadConfig(pathname string, required bool) (*config, error) {
	c := new(config)
	if err := cfgload.Load(pathname, required, "CACHESERVER_", c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *config) applyDefaultsForMissingProperties() {
	if c.Listen == "" {
		c.Listen = server.DefaultAddress
	}
	if c.Store == "" {
		c.Store = "memory"
	}
	if c.Path == "" {
		c.Path = "$HOME/lib/blobgate/cache.db"
	}
	c.Path = os.ExpandEnv(c.Path)
}

func (c *config) validate() error {
	switch c.Store {
	case "memory", "bolt":
		return nil
	default:
		return fmt.Errorf("store: %q is neither memory nor bolt", c.Store)
	}
}

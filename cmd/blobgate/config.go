package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	cfgload "github.com/nicolagi/blobgate/internal/config"
)

type backendConfig struct {
	Type string `json:"type" env:"BACKEND"`

	// Properties for "cache" type.
	CacheHost string `json:"cache_host" env:"CACHE_HOST"`
	CachePort int    `json:"cache_port" env:"CACHE_PORT"`

	// Properties for "disk", "bolt" and "sqlite" types.
	Path string `json:"path" env:"PATH"`

	// Properties for "s3" and "dynamodb" types.
	Profile  string `json:"profile" env:"PROFILE"`
	Region   string `json:"region" env:"REGION"`
	Bucket   string `json:"bucket" env:"BUCKET"`
	Table    string `json:"table" env:"TABLE"`
	Prefix   string `json:"prefix" env:"PREFIX"`
	Endpoint string `json:"endpoint" env:"ENDPOINT"`

	// Properties for "http" type.
	Address string `json:"address" env:"ADDRESS"`

	// In time.ParseDuration format. How long the "cache" type may stall,
	// the "http" type may take to answer, the "dynamodb" type may take per
	// call.
	Timeout string `json:"timeout" env:"TIMEOUT"`
}

type config struct {
	Listen      string `json:"listen" env:"LISTEN"`
	Debug       bool   `json:"debug" env:"DEBUG"`
	MaxBodySize int64  `json:"max_body_size" env:"MAX_BODY_SIZE"`

	Backend backendConfig `json:"backend"`

	// Optional. A fast store in front of the main one.
	Fast backendConfig `json:"fast" envPrefix:"FAST_"`
}

const envPrefix = "BLOBGATE_"

// loadConfig reads the configuration file at pathname, if any, then applies
// overrides from the environment. A missing file is an error only if
// required.
func loadConfig(pathname string, required bool) (*config, error) {
	c := new(config)
	if err := cfgload.Load(pathname, required, envPrefix, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *config) applyDefaultsForMissingProperties() {
	if c.Listen == "" {
		c.Listen = ":3000"
	}
	if c.Backend.Type == "" {
		c.Backend.Type = "cache"
	}
	c.Backend.applyDefaultsForMissingProperties("data")
	if c.Fast.Type != "" {
		c.Fast.applyDefaultsForMissingProperties("fast")
	}
}

func (c *backendConfig) applyDefaultsForMissingProperties(name string) {
	if c.CacheHost == "" {
		c.CacheHost = "127.0.0.1"
	}
	if c.CachePort == 0 {
		c.CachePort = 6660
	}
	if c.Path == "" {
		c.Path = "$HOME/lib/blobgate/" + name
		switch c.Type {
		case "bolt", "sqlite":
			c.Path += ".db"
		}
	}
	c.Path = os.ExpandEnv(c.Path)
	if c.Timeout == "" {
		c.Timeout = "30s"
	}
}

func (c *config) validate() error {
	if c.MaxBodySize < 0 {
		return fmt.Errorf("max_body_size: %d is negative", c.MaxBodySize)
	}
	if err := c.Backend.validate(); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if c.Fast.Type == "" {
		return nil
	}
	if err := c.Fast.validate(); err != nil {
		return fmt.Errorf("fast: %w", err)
	}
	return nil
}

func (c *backendConfig) validate() error {
	if _, err := c.timeout(); err != nil {
		return err
	}
	switch c.Type {
	case "memory", "disk", "bolt", "sqlite":
	case "cache":
		if c.CachePort <= 0 || c.CachePort > 65535 {
			return fmt.Errorf("cache_port: %d is not a valid port", c.CachePort)
		}
	case "s3":
		if c.Bucket == "" {
			return errors.New("s3 type requires a bucket")
		}
	case "dynamodb":
		if c.Table == "" {
			return errors.New("dynamodb type requires a table")
		}
	case "http":
		if c.Address == "" {
			return errors.New("http type requires an address")
		}
	default:
		return fmt.Errorf("%q: unknown type", c.Type)
	}
	return nil
}

func (c *backendConfig) timeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout: %v is negative", d)
	}
	return d, nil
}

func (c *backendConfig) cacheAddress() string {
	return net.JoinHostPort(c.CacheHost, strconv.Itoa(c.CachePort))
}

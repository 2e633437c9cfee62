package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nicolagi/blobgate/cache/client"
	"github.com/nicolagi/blobgate/storage"
	log "github.com/sirupsen/logrus"
)

// openStore returns the store the gateway serves, made of the main backend
// and, if configured, the fast one in front of it.
func openStore(c *config) (storage.Store, error) {
	slow, err := openBackend(&c.Backend)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	if c.Fast.Type == "" {
		return slow, nil
	}
	fast, err := openBackend(&c.Fast)
	if err != nil {
		closeStore(slow)
		return nil, fmt.Errorf("fast: %w", err)
	}
	return storage.NewTiered(fast, slow), nil
}

func openBackend(c *backendConfig) (storage.Store, error) {
	timeout, err := c.timeout()
	if err != nil {
		return nil, err
	}
	logger := log.WithField("type", c.Type)
	switch c.Type {
	case "memory":
		logger.Warn("Blobs will be lost on exit")
		return storage.NewInMemoryStore(), nil
	case "disk":
		if err := os.MkdirAll(c.Path, 0700); err != nil {
			return nil, err
		}
		logger.WithField("path", c.Path).Info("Using disk backend")
		return storage.NewDiskStore(c.Path), nil
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(c.Path), 0700); err != nil {
			return nil, err
		}
		logger.WithField("path", c.Path).Info("Using bolt backend")
		return storage.OpenBoltStore(c.Path)
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(c.Path), 0700); err != nil {
			return nil, err
		}
		logger.WithField("path", c.Path).Info("Using sqlite backend")
		return storage.OpenSQLiteStore(c.Path)
	case "cache":
		address := c.cacheAddress()
		logger.WithField("address", address).Info("Using cache backend")
		// The timeout detects stalls; a large blob that keeps moving may take
		// longer.
		remote := client.New(client.WithAddress(address), client.WithTimeout(timeout))
		store := storage.NewCacheStore(remote)
		store.Start()
		return store, nil
	case "s3":
		logger.WithFields(log.Fields{
			"bucket": c.Bucket,
			"region": c.Region,
		}).Info("Using s3 backend")
		// Uploads of large blobs take as long as they take.
		return storage.NewS3(c.Profile, c.Region, c.Bucket, c.awsOptions(0)...)
	case "dynamodb":
		logger.WithFields(log.Fields{
			"table":  c.Table,
			"region": c.Region,
		}).Info("Using dynamodb backend")
		return storage.NewDynamoDBStore(c.Profile, c.Region, c.Table, c.awsOptions(timeout)...)
	case "http":
		logger.WithField("address", c.Address).Info("Using http backend")
		return storage.NewRemoteStore(c.Address, storage.WithRequestTimeout(timeout)), nil
	default:
		return nil, fmt.Errorf("%q: unknown type", c.Type)
	}
}

func (c *backendConfig) awsOptions(timeout time.Duration) []storage.Option {
	opts := []storage.Option{storage.WithRequestTimeout(timeout)}
	if c.Prefix != "" {
		opts = append(opts, storage.WithPrefix(c.Prefix))
	}
	if c.Endpoint != "" {
		opts = append(opts, storage.WithEndpoint(c.Endpoint))
	}
	return opts
}

func closeStore(store storage.Store) {
	c, ok := store.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		log.WithField("err", err).Warn("Could not close store")
	}
}

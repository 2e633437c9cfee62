package storage_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nicolagi/blobgate/cache/client"
	"github.com/nicolagi/blobgate/cache/server"
	"github.com/nicolagi/blobgate/gateway"
	"github.com/nicolagi/blobgate/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreImplementations(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(*testing.T) (storage.Store, func())
		// The gateway refuses empty bodies, so stores talking to one can't
		// hold empty values.
		noEmptyValues bool
	}{
		{
			name: "Store implementation backed by S3",
			setup: func(t *testing.T) (s storage.Store, teardown func()) {
				bucket := os.Getenv("BLOBGATE_TEST_S3_BUCKET")
				if bucket == "" {
					t.Skip("set BLOBGATE_TEST_S3_BUCKET (and optionally _PROFILE, _REGION, _ENDPOINT) to run")
				}
				opts := []storage.Option{storage.WithPrefix(fmt.Sprintf("blobgate-test-%d/", time.Now().UnixNano()))}
				if endpoint := os.Getenv("BLOBGATE_TEST_S3_ENDPOINT"); endpoint != "" {
					opts = append(opts, storage.WithEndpoint(endpoint))
				}
				s3, err := storage.NewS3(os.Getenv("BLOBGATE_TEST_S3_PROFILE"), os.Getenv("BLOBGATE_TEST_S3_REGION"), bucket, opts...)
				require.Nil(t, err)
				return s3, func() {}
			},
		},
		{
			name: "Store implementation backed by a BoltDB",
			setup: func(t *testing.T) (s storage.Store, teardown func()) {
				store, err := storage.OpenBoltStore(filepath.Join(t.TempDir(), "test.db"))
				require.Nil(t, err)
				return store, func() {
					_ = store.Close()
				}
			},
		},
		{
			name: "Store implementation backed by SQLite",
			setup: func(t *testing.T) (s storage.Store, teardown func()) {
				store, err := storage.OpenSQLiteStore(filepath.Join(t.TempDir(), "test.sqlite"))
				require.Nil(t, err)
				return store, func() {
					_ = store.Close()
				}
			},
		},
		{
			name: "Store implementation backed by a map",
			setup: func(*testing.T) (s storage.Store, teardown func()) {
				return storage.NewInMemoryStore(), func() {
					// Nothing to do.
				}
			},
		},
		{
			name: "Store implementation backed by a host filesystem directory",
			setup: func(t *testing.T) (s storage.Store, teardown func()) {
				return storage.NewDiskStore(t.TempDir()), func() {}
			},
		},
		{
			name: "Tiered store backed by two in-memory stores",
			setup: func(t *testing.T) (s storage.Store, teardown func()) {
				return storage.NewTiered(
					storage.NewInMemoryStore(),
					storage.NewInMemoryStore(),
				), func() {}
			},
		},
		{
			name: "Store implementation backed by a cache server",
			setup: func(t *testing.T) (s storage.Store, teardown func()) {
				cacheServer := server.New(server.WithAddress("localhost:0"))
				address, err := cacheServer.Listen()
				require.Nil(t, err)
				srvc := make(chan struct{})
				go func() {
					assert.Nil(t, cacheServer.Serve())
					close(srvc)
				}()
				store := storage.NewCacheStore(
					client.New(client.WithAddress(address)),
					storage.WithRequestTimeout(5*time.Second),
				)
				store.Start()
				return store, func() {
					store.Stop()
					assert.Nil(t, cacheServer.Shutdown())
					<-srvc
				}
			},
		},
		{
			name: "Store implementation backed by another gateway",
			setup: func(t *testing.T) (s storage.Store, teardown func()) {
				upstream := httptest.NewServer(gateway.New(storage.NewInMemoryStore()))
				return storage.NewRemoteStore(upstream.URL), upstream.Close
			},
			noEmptyValues: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store, teardown := tc.setup(t)
			defer teardown()
			testStore(t, store, !tc.noEmptyValues)
		})
	}
}

func testStore(t *testing.T, store storage.Store, emptyValues bool) {
	rand.Seed(time.Now().UnixNano())
	ctx := context.Background()
	t.Run("what you put is what you get", func(t *testing.T) {
		key := randomKey()
		err := store.Put(ctx, key, []byte("hello"))
		require.Nil(t, err)
		storedValue, err := store.Get(ctx, key)
		require.Nil(t, err)
		assert.Equal(t, []byte("hello"), storedValue)
	})
	t.Run("error on not existing key", func(t *testing.T) {
		key := randomKey()
		value, err := store.Get(ctx, key)
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
		assert.Nil(t, value)
	})
	t.Run("last put wins", func(t *testing.T) {
		key := randomKey()
		require.Nil(t, store.Put(ctx, key, []byte("first")))
		require.Nil(t, store.Put(ctx, key, []byte("second")))
		value, err := store.Get(ctx, key)
		require.Nil(t, err)
		assert.Equal(t, []byte("second"), value)
	})
	t.Run("deleted keys are not found", func(t *testing.T) {
		key := randomKey()
		require.Nil(t, store.Put(ctx, key, []byte("hello")))
		require.Nil(t, store.Delete(ctx, key))
		_, err := store.Get(ctx, key)
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})
	t.Run("deleting a missing key succeeds", func(t *testing.T) {
		key := randomKey()
		assert.Nil(t, store.Delete(ctx, key))
		assert.Nil(t, store.Delete(ctx, key))
	})
	t.Run("binary values survive", func(t *testing.T) {
		key := randomKey()
		value := make([]byte, 1<<16+3)
		rand.Read(value)
		require.Nil(t, store.Put(ctx, key, value))
		storedValue, err := store.Get(ctx, key)
		require.Nil(t, err)
		assert.True(t, bytes.Equal(value, storedValue))
	})
	if emptyValues {
		t.Run("can put a nil value, get non-nil empty slice", func(t *testing.T) {
			key := randomKey()
			err := store.Put(ctx, key, nil)
			require.Nil(t, err)
			value, err := store.Get(ctx, key)
			assert.Nil(t, err)
			assert.Equal(t, []byte{}, value)
		})
		t.Run("can put an empty value", func(t *testing.T) {
			key := randomKey()
			err := store.Put(ctx, key, []byte{})
			require.Nil(t, err)
			value, err := store.Get(ctx, key)
			assert.Nil(t, err)
			assert.Equal(t, []byte{}, value)
		})
	}
	t.Run("mutating value should not affect stored pairs", func(t *testing.T) {
		key := randomKey()
		before := []byte("old value")
		if err := store.Put(ctx, key, before); err != nil {
			t.Fatalf("got %v, want nil", err)
		}
		copy(before, "new")
		after, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("got %v, want nil", err)
		}
		if want := []byte("old value"); !bytes.Equal(want, after) {
			t.Errorf("got %q, want %q", after, want)
		}
	})
	t.Run("mutating a got value should not affect stored pairs", func(t *testing.T) {
		key := randomKey()
		require.Nil(t, store.Put(ctx, key, []byte("old value")))
		got, err := store.Get(ctx, key)
		require.Nil(t, err)
		copy(got, "new")
		after, err := store.Get(ctx, key)
		require.Nil(t, err)
		assert.Equal(t, []byte("old value"), after)
	})
}

func randomKey() string {
	return fmt.Sprintf("key-%016x", rand.Uint64())
}

func TestDiskStore(t *testing.T) {
	ctx := context.Background()
	t.Run("one file per key, named after the key", func(t *testing.T) {
		dir := t.TempDir()
		store := storage.NewDiskStore(dir)
		require.Nil(t, store.Put(ctx, "unknown.txt", []byte("hello")))
		entries, err := os.ReadDir(dir)
		require.Nil(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "unknown.txt", entries[0].Name())
		content, err := os.ReadFile(filepath.Join(dir, "unknown.txt"))
		require.Nil(t, err)
		assert.Equal(t, []byte("hello"), content)
	})
	t.Run("keys escaping the root are refused", func(t *testing.T) {
		dir := t.TempDir()
		store := storage.NewDiskStore(filepath.Join(dir, "root"))
		require.Nil(t, os.Mkdir(store.Dir(), 0700))
		for _, key := range []string{"", ".", "..", "../escape", "a/b", `a\b`, "nul\x00"} {
			err := store.Put(ctx, key, []byte("x"))
			assert.True(t, errors.Is(err, storage.ErrInvalidKey), "%q: got %v", key, err)
			_, err = store.Get(ctx, key)
			assert.True(t, errors.Is(err, storage.ErrInvalidKey), "%q: got %v", key, err)
			err = store.Delete(ctx, key)
			assert.True(t, errors.Is(err, storage.ErrInvalidKey), "%q: got %v", key, err)
		}
		entries, err := os.ReadDir(dir)
		require.Nil(t, err)
		assert.Len(t, entries, 1)
	})
	t.Run("temporary files can't be addressed", func(t *testing.T) {
		dir := t.TempDir()
		store := storage.NewDiskStore(dir)
		inFlight := filepath.Join(dir, ".blobgate-put-123456")
		require.Nil(t, os.WriteFile(inFlight, []byte("partial"), 0600))
		_, err := store.Get(ctx, ".blobgate-put-123456")
		assert.True(t, errors.Is(err, storage.ErrInvalidKey), "got %v", err)
		err = store.Delete(ctx, ".blobgate-put-123456")
		assert.True(t, errors.Is(err, storage.ErrInvalidKey), "got %v", err)
		err = store.Put(ctx, ".blobgate-put-123456", []byte("x"))
		assert.True(t, errors.Is(err, storage.ErrInvalidKey), "got %v", err)
		content, err := os.ReadFile(inFlight)
		require.Nil(t, err)
		assert.Equal(t, []byte("partial"), content)
	})
	t.Run("keys too long for a file name", func(t *testing.T) {
		dir := t.TempDir()
		store := storage.NewDiskStore(dir)
		key := strings.Repeat("k", 1000)
		err := store.Put(ctx, key, []byte("x"))
		assert.True(t, errors.Is(err, storage.ErrInvalidKey), "got %v", err)
		_, err = store.Get(ctx, key)
		assert.True(t, errors.Is(err, storage.ErrInvalidKey), "got %v", err)
		err = store.Delete(ctx, key)
		assert.True(t, errors.Is(err, storage.ErrInvalidKey), "got %v", err)
		entries, err := os.ReadDir(dir)
		require.Nil(t, err)
		assert.Empty(t, entries, "temporary file left behind")
	})
	t.Run("no directories are created", func(t *testing.T) {
		store := storage.NewDiskStore(filepath.Join(t.TempDir(), "missing"))
		err := store.Put(ctx, "key", []byte("x"))
		assert.NotNil(t, err)
		_, statErr := os.Stat(store.Dir())
		assert.True(t, os.IsNotExist(statErr))
	})
}

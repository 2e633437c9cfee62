package storage

import (
	"context"
	"fmt"

	"github.com/boltdb/bolt"
)

// BoltStore is an implementation of Store whose backend is a Bolt database.
type BoltStore bolt.DB

var (
	bucketName = []byte("blobs")
)

func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return fmt.Errorf("could not ensure bucket %q exists: %w", bucketName, err)
		}
		return nil
	})
	return (*BoltStore)(db), err
}

// OpenBoltStore opens (creating if needed) the database file at pathname.
func OpenBoltStore(pathname string) (*BoltStore, error) {
	db, err := bolt.Open(pathname, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("could not open database %q: %w", pathname, err)
	}
	s, err := NewBoltStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return (*bolt.DB)(s).Update(func(tx *bolt.Tx) error {
		// Bolt treats a nil value as absent.
		if err := tx.Bucket(bucketName).Put([]byte(key), dup(value)); err != nil {
			return fmt.Errorf("could not put %.40q: %w", key, err)
		}
		return nil
	})
}

func (s *BoltStore) Get(ctx context.Context, key string) (value []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err = (*bolt.DB)(s).View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return fmt.Errorf("%.40q: %w", key, ErrNotFound)
		}
		// Only valid for the life of the transaction.
		value = dup(v)
		return nil
	})
	return value, err
}

func (s *BoltStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return (*bolt.DB)(s).Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketName).Delete([]byte(key)); err != nil {
			return fmt.Errorf("could not delete %.40q: %w", key, err)
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return (*bolt.DB)(s).Close()
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Tiered implements Store wrapping a pair of stores, one fast, one slow. The
// slow store is authoritative: puts and deletes go to the slow store first,
// then to the fast one. Gets are served from the fast store if possible,
// otherwise from the slow store, also propagating the value to the fast store
// for next time it is requested.
//
// Keys whose fast copy could be neither updated nor evicted are remembered as
// stale and served from the slow store until the fast store catches up.
type Tiered struct {
	fast Store
	slow Store

	mu    sync.Mutex
	stale map[string]struct{}
}

func NewTiered(fast, slow Store) *Tiered {
	return &Tiered{
		fast:  fast,
		slow:  slow,
		stale: make(map[string]struct{}),
	}
}

func (s *Tiered) Get(ctx context.Context, key string) (value []byte, err error) {
	logger := log.WithFields(log.Fields{
		"key": fmt.Sprintf("%.40q", key),
	})
	stale := s.isStale(key)
	if !stale {
		value, err = s.fast.Get(ctx, key)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrNotFound) {
			logger.WithField("err", err).Warn("Could not get from fast store")
		}
	}
	value, err = s.slow.Get(ctx, key)
	if err != nil {
		if stale && errors.Is(err, ErrNotFound) {
			if ferr := s.fast.Delete(ctx, key); ferr == nil {
				s.setStale(key, false)
			}
		}
		return nil, err
	}
	if ferr := s.fast.Put(ctx, key, value); ferr != nil {
		logger.WithField("err", ferr).Warn("Could not propagate from slow to fast")
	} else {
		s.setStale(key, false)
		logger.Debug("Propagated from slow to fast")
	}
	return value, nil
}

func (s *Tiered) Put(ctx context.Context, key string, value []byte) error {
	if err := s.slow.Put(ctx, key, value); err != nil {
		return err
	}
	if err := s.fast.Put(ctx, key, value); err != nil {
		s.evict(ctx, key, err)
		return nil
	}
	s.setStale(key, false)
	return nil
}

func (s *Tiered) Delete(ctx context.Context, key string) error {
	if err := s.slow.Delete(ctx, key); err != nil {
		return err
	}
	if err := s.fast.Delete(ctx, key); err != nil {
		s.setStale(key, true)
		log.WithFields(log.Fields{
			"key": fmt.Sprintf("%.40q", key),
			"err": err,
		}).Error("Could not delete from fast store, marked stale")
		return nil
	}
	s.setStale(key, false)
	return nil
}

// evict removes the fast copy of key after a failed put to the fast store,
// marking the key stale if that fails too.
func (s *Tiered) evict(ctx context.Context, key string, cause error) {
	logger := log.WithFields(log.Fields{
		"key": fmt.Sprintf("%.40q", key),
		"err": cause,
	})
	if err := s.fast.Delete(ctx, key); err != nil {
		s.setStale(key, true)
		logger.WithField("evict_err", err).Error("Could not evict from fast store, marked stale")
		return
	}
	s.setStale(key, false)
	logger.Warn("Could not put to fast store, evicted it")
}

func (s *Tiered) isStale(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stale[key]
	return ok
}

func (s *Tiered) setStale(key string, stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stale {
		s.stale[key] = struct{}{}
	} else {
		delete(s.stale, key)
	}
}

// Close closes whichever of the two stores needs closing.
func (s *Tiered) Close() error {
	var errs []error
	for _, tier := range []Store{s.fast, s.slow} {
		if c, ok := tier.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

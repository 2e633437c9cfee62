package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nicolagi/blobgate/cache/client"
	"github.com/nicolagi/blobgate/message"
	log "github.com/sirupsen/logrus"
)

// CacheStore is an implementation of Store via a client to a remote cache
// server. All calls share the client's connection: each request is tagged,
// and a receive loop hands every response to the call waiting on its tag.
// The cache server is authoritative; nothing is cached locally.
type CacheStore struct {
	tags   *message.MonotoneTags
	remote *client.Client
	opts   options

	// Tracks the receive loop, so that Stop can wait for it.
	doing sync.WaitGroup

	mu      sync.Mutex
	pending map[uint16]chan reply
	stopped bool
	done    chan struct{}
}

type reply struct {
	m   message.Message
	err error
}

func NewCacheStore(remote *client.Client, opts ...Option) *CacheStore {
	cs := &CacheStore{
		tags:    message.NewMonotoneTags(),
		remote:  remote,
		pending: make(map[uint16]chan reply),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(&cs.opts)
	}
	return cs
}

// Start starts the receive loop. It must be called before any other method.
func (cs *CacheStore) Start() {
	cs.doing.Add(1)
	go cs.receiveLoop()
}

// Stop closes the connection and makes pending and future calls fail with
// ErrShutdown. It returns after the receive loop has exited.
func (cs *CacheStore) Stop() {
	cs.mu.Lock()
	if cs.stopped {
		cs.mu.Unlock()
		return
	}
	cs.stopped = true
	close(cs.done)
	cs.mu.Unlock()

	if err := cs.remote.Close(); err != nil {
		log.WithField("err", err).Warn("Could not close connection to cache server")
	}
	cs.doing.Wait()
	cs.tags.Stop()
}

// Close implements io.Closer by calling Stop.
func (cs *CacheStore) Close() error {
	cs.Stop()
	return nil
}

func (cs *CacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	response, err := cs.do(ctx, func(tag uint16) message.Message {
		return message.NewGetMessage(tag, key)
	})
	if err != nil {
		return nil, err
	}
	switch response.Kind() {
	case message.KindValue:
		return response.Value(), nil
	case message.KindNotFound:
		return nil, fmt.Errorf("%.40q: %w", key, ErrNotFound)
	case message.KindError:
		return nil, errors.New(response.Text())
	default:
		return nil, fmt.Errorf("unexpected response kind: %v", response.Kind())
	}
}

func (cs *CacheStore) Put(ctx context.Context, key string, value []byte) error {
	response, err := cs.do(ctx, func(tag uint16) message.Message {
		return message.NewPutMessage(tag, key, value)
	})
	if err != nil {
		return err
	}
	return expectOK(response)
}

func (cs *CacheStore) Delete(ctx context.Context, key string) error {
	response, err := cs.do(ctx, func(tag uint16) message.Message {
		return message.NewDeleteMessage(tag, key)
	})
	if err != nil {
		return err
	}
	return expectOK(response)
}

func expectOK(response message.Message) error {
	switch response.Kind() {
	case message.KindOK:
		return nil
	case message.KindError:
		return errors.New(response.Text())
	default:
		return fmt.Errorf("unexpected response kind: %v", response.Kind())
	}
}

func (cs *CacheStore) do(ctx context.Context, request func(uint16) message.Message) (message.Message, error) {
	ctx, cancel := cs.opts.bound(ctx)
	defer cancel()
	replies := make(chan reply, 1)
	tag, err := cs.register(replies)
	if err != nil {
		return message.Message{}, err
	}
	defer cs.forget(tag)
	if err := cs.remote.Send(ctx, request(tag)); err != nil {
		return message.Message{}, classify(err)
	}
	select {
	case r := <-replies:
		return r.m, r.err
	case <-ctx.Done():
		return message.Message{}, classify(ctx.Err())
	case <-cs.done:
		return message.Message{}, ErrShutdown
	}
}

func (cs *CacheStore) register(replies chan reply) (uint16, error) {
	for {
		tag := cs.tags.Next()
		cs.mu.Lock()
		if cs.stopped || tag == 0 {
			cs.mu.Unlock()
			return 0, ErrShutdown
		}
		// Tags wrap around; skip those still waiting for a response.
		if _, busy := cs.pending[tag]; !busy {
			cs.pending[tag] = replies
			cs.mu.Unlock()
			return tag, nil
		}
		cs.mu.Unlock()
	}
}

func (cs *CacheStore) forget(tag uint16) {
	cs.mu.Lock()
	delete(cs.pending, tag)
	cs.mu.Unlock()
}

// Responses to requests sent on a connection that broke are lost, so all
// pending calls fail.
func (cs *CacheStore) failPending(err error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for tag, replies := range cs.pending {
		replies <- reply{err: err}
		delete(cs.pending, tag)
	}
}

func (cs *CacheStore) receiveLoop() {
	defer cs.doing.Done()
	for {
		var m message.Message
		if err := cs.remote.Receive(&m); err != nil {
			if errors.Is(err, client.ErrClosed) {
				return
			}
			log.WithFields(log.Fields{
				"err":     err,
				"address": cs.remote.Address(),
			}).Warn("Lost connection to cache server")
			cs.failPending(classify(err))
			continue
		}
		cs.mu.Lock()
		replies, ok := cs.pending[m.Tag()]
		delete(cs.pending, m.Tag())
		cs.mu.Unlock()
		if !ok {
			log.WithField("message", m).Warn("Dropping response nobody is waiting for")
			continue
		}
		replies <- reply{m: m}
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, client.ErrClosed):
		return ErrShutdown
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%v: %w", err, ErrTimeout)
	case errors.Is(err, client.ErrTimeout):
		return fmt.Errorf("%v: %w", err, ErrTimeout)
	case errors.Is(err, client.ErrDetached):
		return fmt.Errorf("%v: %w", err, ErrUnavailable)
	default:
		return err
	}
}

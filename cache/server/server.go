// Package server implements the cache server: a TCP service holding a flat
// key-value store, speaking the protocol of the message package. Clients send
// tagged get, put and delete requests, possibly many at once over the same
// connection, and receive one tagged response per request, in completion
// order.
package server

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/nicolagi/blobgate/storage"
	log "github.com/sirupsen/logrus"
)

// DefaultAddress is where the server listens unless configured otherwise.
const DefaultAddress = ":6660"

type Option func(*options)

type options struct {
	address      string
	store        storage.Store
	maxValueSize uint64
}

func WithAddress(value string) Option {
	return func(o *options) {
		o.address = value
	}
}

// WithStore sets the store requests are applied to. Defaults to an in-memory
// store.
func WithStore(value storage.Store) Option {
	return func(o *options) {
		o.store = value
	}
}

// WithMaxValueSize bounds the values accepted from clients. Connections
// sending larger values are closed.
func WithMaxValueSize(value uint64) Option {
	return func(o *options) {
		o.maxValueSize = value
	}
}

type Server struct {
	opts   options
	ln     net.Listener
	lastID atomic.Uint64

	mu           sync.Mutex
	conns        map[*serverConn]struct{}
	shuttingDown bool
	serving      sync.WaitGroup
}

func New(opts ...Option) *Server {
	s := &Server{
		conns: make(map[*serverConn]struct{}),
	}
	s.opts.address = DefaultAddress
	for _, o := range opts {
		o(&s.opts)
	}
	if s.opts.store == nil {
		s.opts.store = storage.NewInMemoryStore()
	}
	return s
}

func (s *Server) Listen() (addr string, err error) {
	s.ln, err = net.Listen("tcp", s.opts.address)
	if err != nil {
		return
	}
	addr = s.ln.Addr().String()
	return
}

// Serve spawns a goroutine for each incoming connection. The function will
// return (some time after) Shutdown is called, once all connections are done.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// Shutdown must've been called. Interrupt the accept loop.
				break
			}
			log.Error(err)
			continue
		}
		sc := s.wrapConn(conn)
		log.WithFields(log.Fields{
			"id":     sc.id,
			"remote": sc.conn.RemoteAddr(),
			"local":  sc.conn.LocalAddr(),
		}).Info("Client attached")
		s.mu.Lock()
		if s.shuttingDown {
			// Shutdown has already closed the connections it knew about.
			s.mu.Unlock()
			sc.cancel()
			sc.close()
			continue
		}
		s.conns[sc] = struct{}{}
		s.serving.Add(1)
		s.mu.Unlock()
		// The goroutine will exit when the connection is closed.
		go func() {
			defer s.serving.Done()
			sc.handleInput()
		}()
	}
	s.serving.Wait()
	return nil
}

func (s *Server) removeConn(sc *serverConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, sc)
}

// Shutdown instructs the server to shutdown. This method will return
// immediately, while the server will have to be considered shut down only when
// Serve returns.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shuttingDown = true
	// Stop accepting
	err := s.ln.Close()
	// Stop accepted
	for sc := range s.conns {
		sc.close()
	}
	return err
}

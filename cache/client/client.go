// Package client is a low-level client of the cache server. It sends and
// receives message.Message's over a single TCP connection, dialing on demand
// and redialing after the connection breaks. Higher level clients, e.g.
// storage.CacheStore, correlate requests and responses by tag.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nicolagi/blobgate/message"
)

// DefaultAddress is where the cache server listens unless configured otherwise.
const DefaultAddress = "127.0.0.1:6660"

// Writes and reads are issued in chunks of at most this size, each one
// renewing the stall deadline.
const chunkSize = 64 << 10

var (
	ErrClosed   = errors.New("client is closed")
	ErrDetached = errors.New("client is detached")
	ErrTimeout  = errors.New("timeout")
)

type options struct {
	address      string
	timeout      time.Duration
	dialTimeout  time.Duration
	maxValueSize uint64
}

type Option func(*options)

func WithAddress(value string) Option {
	return func(o *options) {
		o.address = value
	}
}

// WithTimeout bounds how long the connection may stall: a write that makes no
// progress, or a server that sends nothing while responses are outstanding.
// Transfers that keep moving are never cut short, however large. Zero means
// no bound.
func WithTimeout(value time.Duration) Option {
	return func(o *options) {
		o.timeout = value
	}
}

func WithDialTimeout(value time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = value
	}
}

// WithMaxValueSize bounds the values accepted from the server.
func WithMaxValueSize(value uint64) Option {
	return func(o *options) {
		o.maxValueSize = value
	}
}

type Client struct {
	opts options

	// Holds the right to write a message; a buffered channel so that waiting
	// for it can be abandoned.
	writing chan struct{}
	encoder *message.Encoder

	dmu     sync.Mutex
	decoder *message.Decoder

	cmu         sync.Mutex
	attached    *sync.Cond
	conn        net.Conn
	closed      bool
	outstanding int
}

// New returns a client; the connection is established by the first Send.
func New(opts ...Option) *Client {
	var c Client
	c.opts.address = DefaultAddress
	c.opts.dialTimeout = 5 * time.Second
	for _, o := range opts {
		o(&c.opts)
	}
	c.writing = make(chan struct{}, 1)
	c.encoder = new(message.Encoder)
	c.decoder = &message.Decoder{MaxValueSize: c.opts.maxValueSize}
	c.attached = sync.NewCond(&c.cmu)
	return &c
}

// Address returns the address of the server.
func (c *Client) Address() string {
	return c.opts.address
}

// Close closes the connection, if any, and makes pending and future calls to
// Send and Receive fail with ErrClosed.
func (c *Client) Close() error {
	c.cmu.Lock()
	defer c.cmu.Unlock()
	c.closed = true
	c.attached.Broadcast()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Send sends the message to the server, dialing first if there's no
// connection. Messages are written one at a time; ctx bounds the wait for
// the turn to write, but a message whose writing has begun is written in
// full, since abandoning it would break the stream for everybody. Errors
// other than rejected messages detach the client.
func (c *Client) Send(ctx context.Context, m message.Message) error {
	select {
	case c.writing <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() {
		<-c.writing
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := c.dial()
	if err != nil {
		return err
	}
	err = c.encoder.Encode(&stallWriter{conn: conn, timeout: c.opts.timeout}, m)
	if errors.Is(err, message.ErrBadMessage) {
		// Rejected before anything was written.
		return err
	}
	if err != nil {
		return c.detach(conn, err)
	}
	c.cmu.Lock()
	if c.conn == conn {
		c.outstanding++
		c.renewReadDeadline(conn)
	}
	c.cmu.Unlock()
	return nil
}

// Receive receives a message from the server. It blocks until there is a
// connection to read from. Any error detaches the client, since the stream
// can't be resynchronized.
func (c *Client) Receive(m *message.Message) error {
	conn, err := c.wait()
	if err != nil {
		return err
	}
	c.dmu.Lock()
	err = c.decoder.Decode(&stallReader{client: c, conn: conn}, m)
	c.dmu.Unlock()
	if err != nil {
		return c.detach(conn, err)
	}
	c.cmu.Lock()
	if c.conn == conn && c.outstanding > 0 {
		c.outstanding--
		c.renewReadDeadline(conn)
	}
	c.cmu.Unlock()
	return nil
}

// renewReadDeadline gives the server another timeout to send something if
// responses are outstanding, and lets an idle connection wait indefinitely
// otherwise. Must be called with cmu held.
func (c *Client) renewReadDeadline(conn net.Conn) {
	if c.opts.timeout <= 0 {
		return
	}
	var deadline time.Time
	if c.outstanding > 0 {
		deadline = time.Now().Add(c.opts.timeout)
	}
	_ = conn.SetReadDeadline(deadline)
}

func (c *Client) dial() (net.Conn, error) {
	c.cmu.Lock()
	defer c.cmu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := net.DialTimeout("tcp", c.opts.address, c.opts.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("could not dial %s: %v: %w", c.opts.address, err, ErrDetached)
	}
	c.conn = conn
	c.outstanding = 0
	c.attached.Broadcast()
	return conn, nil
}

func (c *Client) wait() (net.Conn, error) {
	c.cmu.Lock()
	defer c.cmu.Unlock()
	for c.conn == nil && !c.closed {
		c.attached.Wait()
	}
	if c.closed {
		return nil, ErrClosed
	}
	return c.conn, nil
}

// detach drops conn, unless it was already replaced, and classifies err.
func (c *Client) detach(conn net.Conn, err error) error {
	c.cmu.Lock()
	closed := c.closed
	if c.conn == conn {
		_ = conn.Close()
		c.conn = nil
		c.outstanding = 0
	}
	c.cmu.Unlock()
	if closed {
		return ErrClosed
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%v: %w", err, ErrTimeout)
	}
	return fmt.Errorf("%v: %w", err, ErrDetached)
}

// stallWriter writes in chunks, each with a fresh write deadline.
type stallWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w *stallWriter) Write(p []byte) (n int, err error) {
	for len(p) > 0 {
		chunk := p
		if len(chunk) > chunkSize {
			chunk = chunk[:chunkSize]
		}
		if w.timeout > 0 {
			if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
				return n, err
			}
		}
		m, err := w.conn.Write(chunk)
		n += m
		if err != nil {
			return n, err
		}
		p = p[m:]
	}
	return n, nil
}

// stallReader renews the read deadline whenever the server makes progress.
type stallReader struct {
	client *Client
	conn   net.Conn
}

func (r *stallReader) Read(p []byte) (int, error) {
	if len(p) > chunkSize {
		p = p[:chunkSize]
	}
	n, err := r.conn.Read(p)
	if n > 0 {
		r.client.cmu.Lock()
		if r.client.conn == r.conn {
			r.client.renewReadDeadline(r.conn)
		}
		r.client.cmu.Unlock()
	}
	return n, err
}

package client_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/nicolagi/blobgate/cache/client"
	"github.com/nicolagi/blobgate/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// acceptOne listens on a random port and hands over the first connection.
func acceptOne(t *testing.T) (address string, accepted <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "localhost:0")
	require.Nil(t, err)
	t.Cleanup(func() {
		_ = ln.Close()
	})
	conns := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conns <- conn
		}
	}()
	return ln.Addr().String(), conns
}

// throttledReader reads at most size bytes at a time, pausing in between.
type throttledReader struct {
	r     io.Reader
	size  int
	pause time.Duration
}

func (r *throttledReader) Read(p []byte) (int, error) {
	time.Sleep(r.pause)
	if len(p) > r.size {
		p = p[:r.size]
	}
	return r.r.Read(p)
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	t.Run("unreachable server", func(t *testing.T) {
		ln, err := net.Listen("tcp", "localhost:0")
		require.Nil(t, err)
		address := ln.Addr().String()
		require.Nil(t, ln.Close())

		c := client.New(client.WithAddress(address), client.WithDialTimeout(time.Second))
		defer c.Close()
		err = c.Send(ctx, message.NewGetMessage(1, "key"))
		assert.True(t, errors.Is(err, client.ErrDetached), "got %v", err)
	})
	t.Run("receive waits for a connection, fails once closed", func(t *testing.T) {
		c := client.New()
		errc := make(chan error, 1)
		go func() {
			var m message.Message
			errc <- c.Receive(&m)
		}()
		require.Nil(t, c.Close())
		assert.Equal(t, client.ErrClosed, <-errc)
		assert.Equal(t, client.ErrClosed, c.Send(ctx, message.NewOKMessage(1)))
	})
	t.Run("rejected messages keep the connection", func(t *testing.T) {
		address, accepted := acceptOne(t)
		c := client.New(client.WithAddress(address), client.WithTimeout(time.Second))
		defer c.Close()
		require.Nil(t, c.Send(ctx, message.NewGetMessage(1, "key")))
		conn := <-accepted
		defer conn.Close()

		tooLong := string(make([]byte, 1<<16))
		err := c.Send(ctx, message.NewGetMessage(2, tooLong))
		assert.True(t, errors.Is(err, message.ErrBadMessage), "got %v", err)

		// The server side still reads well-formed messages.
		require.Nil(t, c.Send(ctx, message.NewDeleteMessage(3, "key")))
		decoder := new(message.Decoder)
		var m message.Message
		require.Nil(t, decoder.Decode(conn, &m))
		assert.Equal(t, message.NewGetMessage(1, "key"), m)
		require.Nil(t, decoder.Decode(conn, &m))
		assert.Equal(t, message.NewDeleteMessage(3, "key"), m)
	})
	t.Run("slow transfers that keep moving are not cut short", func(t *testing.T) {
		address, accepted := acceptOne(t)
		timeout := 200 * time.Millisecond
		c := client.New(client.WithAddress(address), client.WithTimeout(timeout))
		defer c.Close()

		value := bytes.Repeat([]byte("0123456789abcdef"), 1<<20)
		received := make(chan message.Message, 1)
		go func() {
			conn := <-accepted
			defer conn.Close()
			var m message.Message
			reader := &throttledReader{r: conn, size: 64 << 10, pause: 5 * time.Millisecond}
			if err := new(message.Decoder).Decode(reader, &m); err == nil {
				received <- m
			}
			close(received)
		}()

		start := time.Now()
		require.Nil(t, c.Send(ctx, message.NewPutMessage(1, "big", value)))
		m, ok := <-received
		require.True(t, ok)
		assert.Greater(t, time.Since(start), timeout)
		assert.Equal(t, "big", m.Key())
		assert.True(t, bytes.Equal(value, m.Value()))
	})
	t.Run("waiting for the turn to write honors the context", func(t *testing.T) {
		address, accepted := acceptOne(t)
		c := client.New(client.WithAddress(address))

		// Nobody reads, so this send blocks once the socket buffers are full.
		blocked := make(chan error, 1)
		go func() {
			blocked <- c.Send(ctx, message.NewPutMessage(1, "big", make([]byte, 256<<20)))
		}()
		conn := <-accepted
		defer conn.Close()
		time.Sleep(100 * time.Millisecond)

		short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		start := time.Now()
		err := c.Send(short, message.NewGetMessage(2, "small"))
		assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
		assert.Less(t, time.Since(start), 5*time.Second)

		require.Nil(t, c.Close())
		assert.NotNil(t, <-blocked)
	})
	t.Run("silent server times out", func(t *testing.T) {
		address, accepted := acceptOne(t)
		c := client.New(client.WithAddress(address), client.WithTimeout(100*time.Millisecond))
		defer c.Close()
		require.Nil(t, c.Send(ctx, message.NewGetMessage(1, "key")))
		conn := <-accepted
		defer conn.Close()
		var m message.Message
		err := c.Receive(&m)
		assert.True(t, errors.Is(err, client.ErrTimeout), "got %v", err)
	})
	t.Run("idle connection does not time out", func(t *testing.T) {
		address, accepted := acceptOne(t)
		timeout := 100 * time.Millisecond
		c := client.New(client.WithAddress(address), client.WithTimeout(timeout))
		defer c.Close()

		go func() {
			conn := <-accepted
			defer conn.Close()
			var encoder message.Encoder
			var decoder message.Decoder
			for {
				var m message.Message
				if err := decoder.Decode(conn, &m); err != nil {
					return
				}
				if err := encoder.Encode(conn, message.NewNotFoundMessage(m.Tag())); err != nil {
					return
				}
			}
		}()

		for tag := uint16(1); tag <= 2; tag++ {
			require.Nil(t, c.Send(ctx, message.NewGetMessage(tag, "key")))
			var m message.Message
			require.Nil(t, c.Receive(&m))
			assert.Equal(t, message.KindNotFound, m.Kind())
			assert.Equal(t, tag, m.Tag())
			time.Sleep(3 * timeout)
		}
	})
}

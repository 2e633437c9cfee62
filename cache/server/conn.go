package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/nicolagi/blobgate/message"
	"github.com/nicolagi/blobgate/storage"
	log "github.com/sirupsen/logrus"
)

type serverConn struct {
	id     uint64
	server *Server

	conn    net.Conn
	emu     sync.Mutex
	encoder *message.Encoder
	decoder *message.Decoder

	// Canceled when the connection goes away, so that requests being applied
	// don't outlive it.
	ctx    context.Context
	cancel context.CancelFunc
	inner  sync.WaitGroup
}

func (s *Server) wrapConn(conn net.Conn) *serverConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &serverConn{
		id:      s.lastID.Add(1),
		server:  s,
		conn:    conn,
		encoder: new(message.Encoder),
		decoder: &message.Decoder{MaxValueSize: s.opts.maxValueSize},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// To be run in a separate goroutine, which will exit when the connection is
// closed or reset, or the client sends something that can't be decoded.
func (sc *serverConn) handleInput() {
	logger := log.WithFields(log.Fields{
		"id":     sc.id,
		"remote": sc.conn.RemoteAddr(),
		"local":  sc.conn.LocalAddr(),
	})
	for {
		var input message.Message
		if err := sc.decoder.Decode(sc.conn, &input); err != nil {
			// The following happens when the connection is closed on either side.
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				logger.WithField("err", err).Info("Client detached")
			} else {
				// Can't find the start of the next message.
				logger.WithField("err", err).Warn("Dropping client")
			}
			break
		}
		if !input.Kind().IsRequest() {
			sc.respond(message.NewErrorMessage(input.Tag(), "only requests can be applied, got "+input.Kind().String()))
			continue
		}
		sc.inner.Add(1)
		go func() {
			defer sc.inner.Done()
			output := storage.ApplyMessage(sc.ctx, sc.server.opts.store, input)
			logger.WithFields(log.Fields{
				"request":  input,
				"response": output,
			}).Debug("Applied")
			sc.respond(output)
		}()
	}
	sc.cancel()
	sc.inner.Wait()
	sc.close()
	// Since we're no longer handling input, deregister this connection.
	sc.server.removeConn(sc)
}

func (sc *serverConn) respond(m message.Message) {
	sc.emu.Lock()
	defer sc.emu.Unlock()
	if err := sc.encoder.Encode(sc.conn, m); err != nil {
		log.WithFields(log.Fields{
			"err": err,
			"id":  sc.id,
		}).Warn("Could not respond")
	}
}

func (sc *serverConn) close() {
	if err := sc.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.WithFields(log.Fields{
			"err": err,
		}).Warn("Could not close connection")
	}
}

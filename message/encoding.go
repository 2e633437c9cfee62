package message

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/nicolagi/blobgate/bits"
)

// DefaultMaxValueSize bounds the values a Decoder accepts unless told
// otherwise. It matches the largest body the gateway ingests.
const DefaultMaxValueSize = 10 << 30

var (
	// ErrUnderflow is returned when not all bytes can be written (in the encoder)
	// or read (in the decoder).
	ErrUnderflow = errors.New("underflow")

	// ErrBadMessage is returned for messages of unknown kind, keys too long to
	// encode, or values larger than the decoder accepts. After a decoder returns
	// it the stream is no longer synchronized.
	ErrBadMessage = errors.New("bad message")
)

type Encoder struct {
	buf []byte
	off int
}

// Encode writes m to w. The header is staged in the encoder's buffer while the
// value, which can be large, is written from the message without copying.
func (e *Encoder) Encode(w io.Writer, m Message) error {
	e.off = 0
	e.makeroom(3)
	e.put8(uint8(m.kind))
	e.put16(m.tag)
	var payload []byte
	switch m.kind {
	case KindGet, KindDelete:
		if err := e.putKey(m.key); err != nil {
			return err
		}
	case KindPut:
		if err := e.putKey(m.key); err != nil {
			return err
		}
		e.makeroom(e.off + 8)
		e.put64(uint64(len(m.value)))
		payload = m.value
	case KindValue:
		e.makeroom(e.off + 8)
		e.put64(uint64(len(m.value)))
		payload = m.value
	case KindNotFound, KindOK:
	case KindError:
		text := m.value
		if len(text) > bits.MaxString {
			text = text[:bits.MaxString]
		}
		e.makeroom(e.off + 2 + len(text))
		e.puts(string(text))
	default:
		return fmt.Errorf("kind %d: %w", m.kind, ErrBadMessage)
	}
	want := int64(e.off + len(payload))
	buffers := net.Buffers{e.buf[:e.off]}
	if len(payload) > 0 {
		buffers = append(buffers, payload)
	}
	n, err := buffers.WriteTo(w)
	if err != nil {
		return err
	}
	if n != want {
		return fmt.Errorf("wrote %d of %d bytes: %w", n, want, ErrUnderflow)
	}
	return nil
}

func (e *Encoder) putKey(key string) error {
	if len(key) > bits.MaxString {
		return fmt.Errorf("key of %d bytes: %w", len(key), ErrBadMessage)
	}
	e.makeroom(e.off + 2 + len(key))
	e.puts(key)
	return nil
}

func (e *Encoder) makeroom(required int) {
	if len(e.buf) >= required {
		return
	}
	larger := make([]byte, required)
	copy(larger, e.buf)
	e.buf = larger
}

func (e *Encoder) put8(v uint8) {
	bits.Put8(e.buf[e.off:], v)
	e.off++
}

func (e *Encoder) put16(v uint16) {
	bits.Put16(e.buf[e.off:], v)
	e.off += 2
}

func (e *Encoder) put64(v uint64) {
	bits.Put64(e.buf[e.off:], v)
	e.off += 8
}

func (e *Encoder) puts(v string) {
	bits.Puts(e.buf[e.off:], v)
	e.off += 2 + len(v)
}

type Decoder struct {
	// MaxValueSize is the largest value accepted from the stream. Zero means
	// DefaultMaxValueSize.
	MaxValueSize uint64

	buf []byte

	// For each Decode call, contains the first read error or underflow error.
	// Reset to nil at the beginning of each Decode call.
	err error
}

// Decode reads the next message from r into m. It returns io.EOF only if the
// stream ends cleanly between two messages.
func (d *Decoder) Decode(r io.Reader, m *Message) error {
	d.err = nil
	*m = Message{}
	header := d.read(r, 3, true)
	if d.err != nil {
		return d.err
	}
	kind, header := bits.Get8(header)
	m.kind = Kind(kind)
	m.tag, _ = bits.Get16(header)
	switch m.kind {
	case KindGet, KindDelete:
		m.key = d.gets(r)
	case KindPut:
		m.key = d.gets(r)
		m.value = d.getValue(r)
	case KindValue:
		m.value = d.getValue(r)
	case KindNotFound, KindOK:
	case KindError:
		m.value = []byte(d.gets(r))
	default:
		return fmt.Errorf("kind %d: %w", kind, ErrBadMessage)
	}
	return d.err
}

func (d *Decoder) gets(r io.Reader) string {
	b := d.read(r, 2, false)
	if d.err != nil {
		return ""
	}
	n, _ := bits.Get16(b)
	b = d.read(r, int(n), false)
	if d.err != nil {
		return ""
	}
	return string(b)
}

func (d *Decoder) getValue(r io.Reader) []byte {
	b := d.read(r, 8, false)
	if d.err != nil {
		return nil
	}
	n, _ := bits.Get64(b)
	max := d.MaxValueSize
	if max == 0 {
		max = DefaultMaxValueSize
	}
	if n > max {
		d.err = fmt.Errorf("value of %d bytes exceeds %d: %w", n, max, ErrBadMessage)
		return nil
	}
	// The value outlives the call, so it gets its own slice.
	value := make([]byte, n)
	d.fill(r, value, false)
	if d.err != nil {
		return nil
	}
	return value
}

// read returns the next n bytes of r in the decoder's scratch buffer, valid
// until the next call.
func (d *Decoder) read(r io.Reader, n int, first bool) []byte {
	if d.err != nil {
		return nil
	}
	if cap(d.buf) < n {
		d.buf = make([]byte, n)
	}
	b := d.buf[:n]
	d.fill(r, b, first)
	return b
}

func (d *Decoder) fill(r io.Reader, b []byte, first bool) {
	if d.err != nil {
		return
	}
	m, err := io.ReadFull(r, b)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF) && !first:
		d.err = fmt.Errorf("read %d of %d bytes: %w", m, len(b), ErrUnderflow)
	default:
		d.err = err
	}
}

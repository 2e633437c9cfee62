package message

import (
	"fmt"
	"math/rand"
	"unicode"
)

// Kind is a number representing the kind of a message. Requests flow from
// clients to the cache server (get, put, delete) and every request is answered
// by exactly one response carrying the same tag (value, not found, ok, error).
type Kind uint8

const (
	// KindGet asks the server for the value stored at a key. Answered with
	// KindValue, KindNotFound or KindError.
	KindGet Kind = iota

	// KindPut stores a value at a key, replacing whatever was there. Answered
	// with KindOK or KindError.
	KindPut

	// KindDelete removes a key. Removing a key that does not exist is not an
	// error, so this is answered with KindOK unless the store itself fails.
	KindDelete

	// KindValue carries the value of a successful get.
	KindValue

	// KindNotFound answers a get for a key that is not in the store.
	KindNotFound

	// KindOK acknowledges a put or a delete.
	KindOK

	// KindError is only sent from the server to the client, carrying a textual
	// description of what went wrong while applying the request.
	KindError
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindGet:
		return "GET"
	case KindPut:
		return "PUT"
	case KindDelete:
		return "DELETE"
	case KindValue:
		return "VALUE"
	case KindNotFound:
		return "NOTFOUND"
	case KindOK:
		return "OK"
	case KindError:
		return "ERROR"
	default:
		return "unknown message kind"
	}
}

// IsRequest reports whether messages of this kind are sent by clients.
func (k Kind) IsRequest() bool {
	return k == KindGet || k == KindPut || k == KindDelete
}

type Message struct {
	// The kind of the message. Meaningful for all messages.
	kind Kind

	// Correlates requests with responses on a given connection. The zero tag is
	// reserved and never used for requests.
	tag uint16

	// The key to get, put or delete. Meaningful for requests only.
	key string

	// The value for put and value messages; doubles as a textual description of
	// the error for error messages.
	value []byte
}

func repr(any string) string {
	const max = 11
	for i, r := range any {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			// Not printable.
			return repr(fmt.Sprintf("%x", any))
		}
		if i > max {
			// Printable, but too long.
			return any[:max-3] + "..."
		}
	}
	// Printable and short!
	return any
}

// String implements fmt.Stringer. Keys and values will be printed in hex form
// if they contain any non-printable character, and clipped to a few runes.
func (m Message) String() string {
	return fmt.Sprintf("kind=%v tag=%d key=%s value=%s len=%d",
		m.kind, m.tag, repr(m.key), repr(string(m.value)), len(m.value))
}

// Kind returns the kind of a message, which should inform how the message
// should be used.
func (m Message) Kind() Kind {
	return m.kind
}

// Tag returns the tag of a message (call for all message kinds). Used to
// correlate requests with responses.
func (m Message) Tag() uint16 {
	return m.tag
}

// Key returns the key a request refers to. Call only for requests, else it'll
// panic.
func (m Message) Key() string {
	if m.kind.IsRequest() {
		return m.key
	}
	panic(m.accessorPanic("Key"))
}

// Value returns the value carried by a put or value message. Call only for
// KindPut and KindValue, else it'll panic.
func (m Message) Value() []byte {
	switch m.kind {
	case KindPut, KindValue:
		return m.value
	default:
		panic(m.accessorPanic("Value"))
	}
}

// Text returns the error description of an error message. Call only for
// KindError, else it'll panic.
func (m Message) Text() string {
	if m.kind == KindError {
		return string(m.value)
	}
	panic(m.accessorPanic("Text"))
}

func (m Message) accessorPanic(accessorName string) string {
	return fmt.Sprintf("cannot call .%s for message of kind %v", accessorName, m.kind)
}

// NewGetMessage constructs a message of KindGet kind.
func NewGetMessage(tag uint16, key string) Message {
	return Message{
		kind: KindGet,
		tag:  tag,
		key:  key,
	}
}

// NewPutMessage constructs a message of KindPut kind. The value is not copied.
func NewPutMessage(tag uint16, key string, value []byte) Message {
	return Message{
		kind:  KindPut,
		tag:   tag,
		key:   key,
		value: nonNil(value),
	}
}

// NewDeleteMessage constructs a message of KindDelete kind.
func NewDeleteMessage(tag uint16, key string) Message {
	return Message{
		kind: KindDelete,
		tag:  tag,
		key:  key,
	}
}

// NewValueMessage constructs a message of KindValue kind. The value is not
// copied.
func NewValueMessage(tag uint16, value []byte) Message {
	return Message{
		kind:  KindValue,
		tag:   tag,
		value: nonNil(value),
	}
}

// NewNotFoundMessage constructs a message of KindNotFound kind.
func NewNotFoundMessage(tag uint16) Message {
	return Message{kind: KindNotFound, tag: tag}
}

// NewOKMessage constructs a message of KindOK kind.
func NewOKMessage(tag uint16) Message {
	return Message{kind: KindOK, tag: tag}
}

// NewErrorMessage constructs a message of KindError kind.
func NewErrorMessage(tag uint16, text string) Message {
	return Message{
		kind:  KindError,
		tag:   tag,
		value: []byte(text),
	}
}

// Decoded values are never nil, so neither are constructed ones.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// RandomTag is a test helper. It never returns the reserved zero tag.
func RandomTag() uint16 {
	return uint16(1 + rand.Intn(65535))
}

// RandomBytes is a test helper.
func RandomBytes() []byte {
	size := rand.Int() % 64
	b := make([]byte, size)
	rand.Read(b)
	return b
}

// RandomString is a test helper.
func RandomString() string {
	return string(RandomBytes())
}

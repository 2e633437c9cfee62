package message_test

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/nicolagi/blobgate/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageWhatYouEncodeIsWhatYouDecode(t *testing.T) {

	testWithNewEncoderAndDecoder := func(t *testing.T, before message.Message) {
		var buf bytes.Buffer
		err := new(message.Encoder).Encode(&buf, before)
		assert.Nil(t, err)
		var after message.Message
		err = new(message.Decoder).Decode(&buf, &after)
		assert.Nil(t, err)
		assert.Equal(t, before, after)
	}

	test := func(t *testing.T, encoder *message.Encoder, decoder *message.Decoder, rw io.ReadWriter, before message.Message) {
		var after message.Message
		assert.Nil(t, encoder.Encode(rw, before))
		assert.Nil(t, decoder.Decode(rw, &after))
		assert.Equal(t, before, after)
	}

	const iters = 100

	rand.Seed(time.Now().UnixNano())

	var buf bytes.Buffer
	encoder := new(message.Encoder)
	decoder := new(message.Decoder)

	generators := map[string]func() message.Message{
		"get": func() message.Message {
			return message.NewGetMessage(message.RandomTag(), message.RandomString())
		},
		"put": func() message.Message {
			return message.NewPutMessage(message.RandomTag(), message.RandomString(), message.RandomBytes())
		},
		"delete": func() message.Message {
			return message.NewDeleteMessage(message.RandomTag(), message.RandomString())
		},
		"value": func() message.Message {
			return message.NewValueMessage(message.RandomTag(), message.RandomBytes())
		},
		"not found": func() message.Message {
			return message.NewNotFoundMessage(message.RandomTag())
		},
		"ok": func() message.Message {
			return message.NewOKMessage(message.RandomTag())
		},
		"error": func() message.Message {
			return message.NewErrorMessage(message.RandomTag(), message.RandomString())
		},
	}
	for name, generate := range generators {
		t.Run("pack and unpack "+name+" messages", func(t *testing.T) {
			for i := 0; i < iters; i++ {
				m := generate()
				testWithNewEncoderAndDecoder(t, m)
				test(t, encoder, decoder, &buf, m)
			}
		})
	}
}

func TestDecoder(t *testing.T) {
	t.Run("clean end of stream", func(t *testing.T) {
		var m message.Message
		err := new(message.Decoder).Decode(bytes.NewReader(nil), &m)
		assert.Equal(t, io.EOF, err)
	})
	t.Run("truncated message underflows", func(t *testing.T) {
		var buf bytes.Buffer
		require.Nil(t, new(message.Encoder).Encode(&buf, message.NewPutMessage(7, "key", []byte("value"))))
		truncated := buf.Bytes()[:buf.Len()-2]
		var m message.Message
		err := new(message.Decoder).Decode(bytes.NewReader(truncated), &m)
		assert.True(t, errors.Is(err, message.ErrUnderflow), "got %v", err)
	})
	t.Run("oversized value is rejected before allocation", func(t *testing.T) {
		var buf bytes.Buffer
		require.Nil(t, new(message.Encoder).Encode(&buf, message.NewValueMessage(7, []byte("too long"))))
		decoder := message.Decoder{MaxValueSize: 4}
		var m message.Message
		err := decoder.Decode(&buf, &m)
		assert.True(t, errors.Is(err, message.ErrBadMessage), "got %v", err)
	})
	t.Run("unknown kind", func(t *testing.T) {
		var m message.Message
		err := new(message.Decoder).Decode(bytes.NewReader([]byte{200, 1, 0}), &m)
		assert.True(t, errors.Is(err, message.ErrBadMessage), "got %v", err)
	})
	t.Run("empty values decode as empty, not nil", func(t *testing.T) {
		var buf bytes.Buffer
		require.Nil(t, new(message.Encoder).Encode(&buf, message.NewValueMessage(7, nil)))
		var m message.Message
		require.Nil(t, new(message.Decoder).Decode(&buf, &m))
		assert.Equal(t, []byte{}, m.Value())
	})
}

func TestEncoder(t *testing.T) {
	t.Run("keys too long to encode", func(t *testing.T) {
		var buf bytes.Buffer
		key := strings.Repeat("k", 1<<16)
		err := new(message.Encoder).Encode(&buf, message.NewGetMessage(1, key))
		assert.True(t, errors.Is(err, message.ErrBadMessage), "got %v", err)
		assert.Equal(t, 0, buf.Len())
	})
}

func TestAccessors(t *testing.T) {
	assert.Panics(t, func() { message.NewOKMessage(1).Key() })
	assert.Panics(t, func() { message.NewGetMessage(1, "k").Value() })
	assert.Panics(t, func() { message.NewValueMessage(1, nil).Text() })
	assert.Equal(t, "boom", message.NewErrorMessage(1, "boom").Text())
	assert.True(t, message.KindDelete.IsRequest())
	assert.False(t, message.KindOK.IsRequest())
}

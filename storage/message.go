package storage

import (
	"context"
	"errors"

	"github.com/nicolagi/blobgate/message"
)

// ApplyMessage applies a request to the store and returns the response to
// send back, tagged like the request.
func ApplyMessage(ctx context.Context, store Store, in message.Message) (out message.Message) {
	inTag := in.Tag()
	switch in.Kind() {
	case message.KindGet:
		value, err := store.Get(ctx, in.Key())
		if errors.Is(err, ErrNotFound) {
			return message.NewNotFoundMessage(inTag)
		}
		if err != nil {
			return message.NewErrorMessage(inTag, err.Error())
		}
		return message.NewValueMessage(inTag, value)
	case message.KindPut:
		if err := store.Put(ctx, in.Key(), in.Value()); err != nil {
			return message.NewErrorMessage(inTag, err.Error())
		}
		return message.NewOKMessage(inTag)
	case message.KindDelete:
		if err := store.Delete(ctx, in.Key()); err != nil {
			return message.NewErrorMessage(inTag, err.Error())
		}
		return message.NewOKMessage(inTag)
	default:
		return message.NewErrorMessage(inTag, "only requests can be applied, got "+in.Kind().String())
	}
}

package gateway

import (
	"errors"
	"net/http"

	"github.com/nicolagi/blobgate/storage"
)

// StatusOf returns the HTTP status a request failing with err answers with.
// Errors raised before reaching the store have fixed statuses; errors from the
// store keep the status the backend attached, if any. Anything else is 500.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, ErrInvalidKey),
		errors.Is(err, storage.ErrInvalidKey),
		errors.Is(err, ErrBadContentLength),
		errors.Is(err, ErrEmpty):
		return http.StatusBadRequest
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnsupportedCharset):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	}
	var withStatus interface{ StatusCode() int }
	if errors.As(err, &withStatus) {
		if code := withStatus.StatusCode(); code >= 400 && code <= 599 {
			return code
		}
	}
	return http.StatusInternalServerError
}

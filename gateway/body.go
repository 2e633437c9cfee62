package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultMaxBodySize is the largest body ReadBody accepts unless told
// otherwise.
const DefaultMaxBodySize int64 = 10 << 30

// Never preallocate more than this on the word of a Content-Length header.
const maxPrealloc = 64 << 20

var (
	ErrBadContentLength   = errors.New("bad content length")
	ErrTooLarge           = errors.New("request entity too large")
	ErrReadFailure        = errors.New("could not read request body")
	ErrUnsupportedCharset = errors.New("unsupported charset")

	// ErrEmpty is returned for bodies that are empty or not well formed in
	// their declared charset.
	ErrEmpty = errors.New("file missing")
)

// ReadBody reads the whole body of r into memory, reading at most limit bytes
// (DefaultMaxBodySize if limit is not positive). On error, no part of the body
// is returned.
//
// A charset parameter in the Content-Type header decides how the body is
// materialized: UTF-8 bodies are kept as they are, bodies in other charsets
// are transcoded to UTF-8. Without a charset the body is taken as raw bytes.
func ReadBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	declared, err := declaredLength(r)
	if err != nil {
		return nil, err
	}
	if declared > limit {
		return nil, fmt.Errorf("%w: declared %d bytes, limit is %d", ErrTooLarge, declared, limit)
	}
	enc, err := charsetOf(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	if r.Body == nil || r.Body == http.NoBody {
		return nil, ErrEmpty
	}

	var buf bytes.Buffer
	if declared > 0 {
		buf.Grow(int(min(declared, maxPrealloc)))
	}
	if _, err := buf.ReadFrom(http.MaxBytesReader(w, r.Body, limit)); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: limit is %d", ErrTooLarge, limit)
		}
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	if declared >= 0 && int64(buf.Len()) != declared {
		return nil, fmt.Errorf("%w: read %d of %d declared bytes", ErrReadFailure, buf.Len(), declared)
	}

	body := buf.Bytes()
	if enc != nil {
		if body, err = decode(enc, body); err != nil {
			return nil, err
		}
	}
	if len(body) == 0 {
		return nil, ErrEmpty
	}
	return body, nil
}

// declaredLength returns the Content-Length of r, or -1 if it is unknown.
func declaredLength(r *http.Request) (int64, error) {
	raw := r.Header.Get("Content-Length")
	if raw == "" {
		return r.ContentLength, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %.20q", ErrBadContentLength, raw)
	}
	return n, nil
}

// charsetOf returns the encoding named by the charset parameter of a
// Content-Type, nil if there is none. The content type is only a hint, so a
// malformed one counts as absent.
func charsetOf(contentType string) (encoding.Encoding, error) {
	if contentType == "" {
		return nil, nil
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, nil
	}
	name, ok := params["charset"]
	if !ok || name == "" {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %.40q", ErrUnsupportedCharset, name)
	}
	return enc, nil
}

func decode(enc encoding.Encoding, body []byte) ([]byte, error) {
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		if !utf8.Valid(body) {
			return nil, fmt.Errorf("%w: body is not valid utf-8", ErrEmpty)
		}
		return body, nil
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmpty, err)
	}
	return decoded, nil
}

package gateway

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nicolagi/blobgate/storage"
	log "github.com/sirupsen/logrus"
)

type options struct {
	maxBodySize int64
}

type Option func(*options)

// WithMaxBodySize sets the largest body a PUT may carry. Defaults to
// DefaultMaxBodySize.
func WithMaxBodySize(value int64) Option {
	return func(o *options) {
		o.maxBodySize = value
	}
}

// Handler serves the blobs of a store. The store is owned by the caller, who
// must keep it usable for as long as the handler serves requests.
type Handler struct {
	store  storage.Store
	opts   options
	router chi.Router
}

func New(store storage.Store, opts ...Option) *Handler {
	h := &Handler{store: store}
	h.opts.maxBodySize = DefaultMaxBodySize
	for _, o := range opts {
		o(&h.opts)
	}
	r := chi.NewRouter()
	r.Use(logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)
	r.HandleFunc("/", h.noRoute)
	r.Get("/{key}", h.read)
	r.Put("/{key}", h.write)
	r.Delete("/{key}", h.remove)
	r.NotFound(h.noRoute)
	r.MethodNotAllowed(h.noRoute)
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) read(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}
	value, err := h.store.Get(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		requestLogger(r).WithField("key", key).Debug("Not found")
		reply(w, r, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(value)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(value); err != nil {
		requestLogger(r).WithField("err", err).Warn("Failed writing response")
	}
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}
	// Nothing reaches the store until the whole body is in.
	value, err := ReadBody(w, r, h.opts.maxBodySize)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.Put(r.Context(), key, value); err != nil {
		h.fail(w, r, err)
		return
	}
	requestLogger(r).WithFields(log.Fields{
		"key":  key,
		"size": len(value),
	}).Debug("Stored")
	reply(w, r, http.StatusOK, "OK")
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), key); err != nil {
		h.fail(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, "OK")
}

// noRoute answers requests no route matches. Paths climbing out of the
// namespace are refused as invalid keys rather than merely unrouted.
func (h *Handler) noRoute(w http.ResponseWriter, r *http.Request) {
	for _, segment := range strings.Split(r.URL.Path, "/") {
		if segment == ".." {
			h.fail(w, r, fmt.Errorf("%w: %.40q traverses upwards", ErrInvalidKey, r.URL.Path))
			return
		}
	}
	reply(w, r, http.StatusNotFound, "No route defined for "+r.URL.Path)
}

func (h *Handler) key(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, err := DeriveKey(r.URL.Path)
	if err != nil {
		h.fail(w, r, err)
		return "", false
	}
	return key, true
}

// fail echoes the error text to the client. Backends must not put anything
// in their errors that clients shouldn't see.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	text := err.Error()
	if errors.Is(err, ErrEmpty) {
		text = ErrEmpty.Error()
	}
	logger := requestLogger(r).WithFields(log.Fields{
		"err":    err,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed")
	} else {
		logger.Debug("Request refused")
	}
	reply(w, r, status, text)
}

func reply(w http.ResponseWriter, r *http.Request, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, text); err != nil {
		requestLogger(r).WithField("err", err).Warn("Failed writing response")
	}
}

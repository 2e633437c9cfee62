package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// RemoteStore implements Store. It requires to connect to another blobgate
// instance, which makes it possible to chain gateways.
type RemoteStore struct {
	address string
	opts    options
}

// NewRemoteStore returns a store for the gateway at address, which can be a
// host:port pair or a base URL.
func NewRemoteStore(address string, opts ...Option) *RemoteStore {
	r := &RemoteStore{address: strings.TrimSuffix(address, "/")}
	if !strings.Contains(r.address, "://") {
		r.address = "http://" + r.address
	}
	for _, o := range opts {
		o(&r.opts)
	}
	if r.opts.httpClient == nil {
		// Bound the wait for an answer, not the transfer of large blobs.
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = r.opts.requestTimeout
		r.opts.httpClient = &http.Client{Transport: transport}
	}
	return r
}

func (r *RemoteStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := r.do(ctx, http.MethodPut, key, value)
	return err
}

func (r *RemoteStore) Get(ctx context.Context, key string) ([]byte, error) {
	body, err := r.do(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (r *RemoteStore) Delete(ctx context.Context, key string) error {
	_, err := r.do(ctx, http.MethodDelete, key, nil)
	return err
}

func (r *RemoteStore) do(ctx context.Context, method, key string, value []byte) ([]byte, error) {
	var body io.Reader
	if value != nil {
		body = bytes.NewReader(value)
	}
	request, err := http.NewRequestWithContext(ctx, method, r.pathFor(key), body)
	if err != nil {
		return nil, err
	}
	if value != nil {
		request.Header.Set("Content-Type", "application/octet-stream")
	}
	response, err := r.opts.httpClient.Do(request)
	if response != nil && response.Body != nil {
		defer func() {
			_ = response.Body.Close()
		}()
	}
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrUnavailable)
	}
	if method == http.MethodGet && response.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%.40q: %w", key, ErrNotFound)
	}
	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: response.StatusCode, Message: string(responseBody)}
	}
	return responseBody, nil
}

func (r *RemoteStore) pathFor(key string) string {
	return r.address + "/" + url.PathEscape(key)
}

package storage

import (
	"context"
	"net/http"
	"time"
)

type options struct {
	requestTimeout time.Duration
	endpoint       string
	prefix         string
	httpClient     *http.Client
}

type Option func(*options)

// WithRequestTimeout bounds each call to a remote backend. CacheStore and
// DynamoDBStore apply it to the whole call; RemoteStore to the wait for the
// response once the request is sent. Zero means calls are bounded only by
// their context.
func WithRequestTimeout(value time.Duration) Option {
	return func(o *options) {
		o.requestTimeout = value
	}
}

// WithEndpoint overrides the service endpoint of AWS-backed stores, e.g., to
// talk to an S3-compatible service.
func WithEndpoint(value string) Option {
	return func(o *options) {
		o.endpoint = value
	}
}

// WithPrefix is prepended to keys by stores sharing a namespace with other
// data, e.g., an S3 bucket.
func WithPrefix(value string) Option {
	return func(o *options) {
		o.prefix = value
	}
}

// WithHTTPClient sets the client used by RemoteStore.
func WithHTTPClient(value *http.Client) Option {
	return func(o *options) {
		o.httpClient = value
	}
}

func (o options) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.requestTimeout > 0 {
		return context.WithTimeout(ctx, o.requestTimeout)
	}
	return ctx, func() {}
}

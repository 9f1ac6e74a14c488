package objectstorage

import (
	"log/slog"
	"net/http"

	"google.golang.org/api/option"

	"github.com/replit/object-storage-go/backend"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	bucketID   string
	sidecarURL string
	httpClient *http.Client
	backend    backend.Backend
	logger     *slog.Logger
	gcsOptions []option.ClientOption
	grpc       bool
}

// WithBucketID selects the bucket explicitly. Without it the client resolves
// the default bucket through the sidecar on first use.
func WithBucketID(id string) Option {
	return func(o *options) {
		o.bucketID = id
	}
}

// WithSidecarURL overrides the sidecar address (default http://127.0.0.1:1106).
func WithSidecarURL(url string) Option {
	return func(o *options) {
		o.sidecarURL = url
	}
}

// WithHTTPClient sets the HTTP client used to talk to the sidecar, for both
// the default bucket lookup and the credential exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithBackend uses b instead of connecting to Google Cloud Storage. No
// credential exchange takes place, and Close does not close b.
func WithBackend(b backend.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithGCSOptions appends options passed to the Google Cloud Storage client,
// after the sidecar token source.
func WithGCSOptions(opts ...option.ClientOption) Option {
	return func(o *options) {
		o.gcsOptions = append(o.gcsOptions, opts...)
	}
}

// WithGRPC makes the Google Cloud Storage client use the gRPC API instead of
// the JSON API.
func WithGRPC() Option {
	return func(o *options) {
		o.grpc = true
	}
}

// DeleteOption configures Client.Delete.
type DeleteOption func(*deleteOptions)

type deleteOptions struct {
	ignoreNotFound bool
}

// IgnoreNotFound makes Delete succeed when the object does not exist.
func IgnoreNotFound() DeleteOption {
	return func(o *deleteOptions) {
		o.ignoreNotFound = true
	}
}

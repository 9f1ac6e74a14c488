package objectstorage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/replit/object-storage-go/backend"
	"github.com/replit/object-storage-go/internal/metrics"
	"github.com/replit/object-storage-go/internal/sidecar"
)

// Client manages interactions with one Replit Object Storage bucket. If an
// application uses several buckets, it should use one Client per bucket.
//
// Any method may fail with ErrBucketNotFound, ErrDefaultBucket, ErrForbidden,
// ErrTooManyRequests or ErrUnauthorized in addition to the errors it
// documents. A Client is safe for concurrent use.
type Client struct {
	backend     backend.Backend
	ownsBackend bool
	resolver    *resolver
	logger      *slog.Logger
}

// New creates a Client. Unless WithBackend is given, it connects to Google
// Cloud Storage with credentials exchanged through the sidecar. The bucket is
// not resolved until the first operation.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	sc := sidecar.NewClient(o.sidecarURL, o.httpClient)

	c := &Client{
		backend: o.backend,
		logger:  o.logger,
	}
	if c.backend == nil {
		gcs, err := newGCSBackend(ctx, sc, &o)
		if err != nil {
			return nil, err
		}
		c.backend = gcs
		c.ownsBackend = true
	}
	c.resolver = newResolver(c.backend, sc, o.bucketID, o.logger)
	return c, nil
}

func newGCSBackend(ctx context.Context, sc *sidecar.Client, o *options) (*backend.GCS, error) {
	if o.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
	}
	ts, err := sidecar.TokenSource(ctx, sc.BaseURL())
	if err != nil {
		return nil, err
	}

	gcsOpts := append([]option.ClientOption{option.WithTokenSource(ts)}, o.gcsOptions...)
	if o.grpc {
		return backend.NewGCSGRPC(ctx, gcsOpts...)
	}
	return backend.NewGCS(ctx, gcsOpts...)
}

// RegisterMetrics registers the client's Prometheus collectors with the
// default registry. It is safe to call more than once.
func RegisterMetrics() {
	metrics.Register()
}

// Close releases the backend connection. A backend supplied with WithBackend
// is left open.
func (c *Client) Close() error {
	if !c.ownsBackend {
		return nil
	}
	return c.backend.Close()
}

// BucketID returns the identifier of the client's bucket, resolving the
// default bucket if necessary.
func (c *Client) BucketID(ctx context.Context) (string, error) {
	return c.resolver.id(ctx)
}

// do runs fn against the client's bucket and maps its failure onto the
// predefined errors. Every operation goes through do.
func (c *Client) do(ctx context.Context, op, object string, fn func(b backend.Bucket) error) error {
	start := time.Now()

	b, err := c.resolver.bucket(ctx)
	if err == nil {
		err = translate(op, fn(b))
	}

	elapsed := time.Since(start)
	metrics.ObserveOperation(op, statusLabel(err), elapsed)

	attrs := []any{"op", op, "object", object, "duration", elapsed}
	if b != nil {
		attrs = append(attrs, "bucket", b.Name())
	}
	if err != nil {
		c.logger.DebugContext(ctx, "object storage operation failed", append(attrs, "error", err)...)
	} else {
		c.logger.DebugContext(ctx, "object storage operation", attrs...)
	}
	return err
}

// Copy copies objectName to destObjectName within the bucket, overwriting
// any existing destination. It fails with ErrObjectNotFound if the source
// does not exist.
func (c *Client) Copy(ctx context.Context, objectName, destObjectName string) error {
	return c.do(ctx, "Copy", objectName, func(b backend.Bucket) error {
		return b.Copy(ctx, objectName, destObjectName)
	})
}

// Delete deletes the object. It fails with ErrObjectNotFound if the object
// does not exist, unless IgnoreNotFound is given.
func (c *Client) Delete(ctx context.Context, objectName string, opts ...DeleteOption) error {
	var o deleteOptions
	for _, opt := range opts {
		opt(&o)
	}
	err := c.do(ctx, "Delete", objectName, func(b backend.Bucket) error {
		return b.Delete(ctx, objectName)
	})
	if o.ignoreNotFound && errors.Is(err, ErrObjectNotFound) {
		return nil
	}
	return err
}

// DownloadAsBytes returns the contents of the object. It fails with
// ErrObjectNotFound if the object does not exist.
func (c *Client) DownloadAsBytes(ctx context.Context, objectName string) ([]byte, error) {
	var buf bytes.Buffer
	err := c.do(ctx, "DownloadAsBytes", objectName, func(b backend.Bucket) error {
		return c.download(ctx, b, objectName, &buf)
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DownloadAsText returns the contents of the object as a string. It fails
// with ErrInvalidText if the contents are not valid UTF-8.
func (c *Client) DownloadAsText(ctx context.Context, objectName string) (string, error) {
	var sb strings.Builder
	err := c.do(ctx, "DownloadAsText", objectName, func(b backend.Bucket) error {
		if err := c.download(ctx, b, objectName, &sb); err != nil {
			return err
		}
		if !utf8.ValidString(sb.String()) {
			return ErrInvalidText.wrap("DownloadAsText", fmt.Errorf("object %q", objectName))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// DownloadToFilename writes the contents of the object to destFilename,
// replacing the file if it exists. If the object does not exist the file is
// not touched.
func (c *Client) DownloadToFilename(ctx context.Context, objectName, destFilename string) error {
	return c.do(ctx, "DownloadToFilename", objectName, func(b backend.Bucket) error {
		r, err := b.NewReader(ctx, objectName)
		if err != nil {
			return err
		}
		defer r.Close()

		f, err := os.Create(destFilename)
		if err != nil {
			return fmt.Errorf("creating %s: %w", destFilename, err)
		}
		n, err := io.Copy(f, r)
		metrics.BytesDownloadedTotal.Add(float64(n))
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(destFilename)
			return err
		}
		return nil
	})
}

// DownloadToWriter streams the contents of the object to w.
func (c *Client) DownloadToWriter(ctx context.Context, objectName string, w io.Writer) error {
	return c.do(ctx, "DownloadToWriter", objectName, func(b backend.Bucket) error {
		return c.download(ctx, b, objectName, w)
	})
}

func (c *Client) download(ctx context.Context, b backend.Bucket, objectName string, w io.Writer) error {
	r, err := b.NewReader(ctx, objectName)
	if err != nil {
		return err
	}
	defer r.Close()

	n, err := io.Copy(w, r)
	metrics.BytesDownloadedTotal.Add(float64(n))
	return err
}

// Exists reports whether the object exists. A missing object or bucket is
// reported as false rather than as an error.
func (c *Client) Exists(ctx context.Context, objectName string) (bool, error) {
	var exists bool
	err := c.do(ctx, "Exists", objectName, func(b backend.Bucket) error {
		var err error
		exists, err = b.Exists(ctx, objectName)
		return err
	})
	if errors.Is(err, ErrObjectNotFound) || errors.Is(err, ErrBucketNotFound) {
		return false, nil
	}
	return exists, err
}

// List returns the objects matching opts in lexicographic order. A nil opts
// lists every object in the bucket.
func (c *Client) List(ctx context.Context, opts *ListOptions) ([]Object, error) {
	var names []string
	err := c.do(ctx, "List", "", func(b backend.Bucket) error {
		var err error
		names, err = b.List(ctx, opts.query())
		return err
	})
	if err != nil {
		return nil, err
	}

	objects := make([]Object, len(names))
	for i, name := range names {
		objects[i] = Object{Name: name}
	}
	return objects, nil
}

// UploadFromFilename uploads the contents of srcFilename as destObjectName,
// overwriting any existing object.
func (c *Client) UploadFromFilename(ctx context.Context, destObjectName, srcFilename string) error {
	return c.do(ctx, "UploadFromFilename", destObjectName, func(b backend.Bucket) error {
		f, err := os.Open(srcFilename)
		if err != nil {
			return fmt.Errorf("opening %s: %w", srcFilename, err)
		}
		defer f.Close()
		return c.upload(ctx, b, destObjectName, f)
	})
}

// UploadFromBytes uploads data as destObjectName, overwriting any existing
// object.
func (c *Client) UploadFromBytes(ctx context.Context, destObjectName string, data []byte) error {
	return c.do(ctx, "UploadFromBytes", destObjectName, func(b backend.Bucket) error {
		return c.upload(ctx, b, destObjectName, bytes.NewReader(data))
	})
}

// UploadFromText uploads text as destObjectName, overwriting any existing
// object.
func (c *Client) UploadFromText(ctx context.Context, destObjectName, text string) error {
	return c.do(ctx, "UploadFromText", destObjectName, func(b backend.Bucket) error {
		return c.upload(ctx, b, destObjectName, strings.NewReader(text))
	})
}

// UploadFromReader uploads everything read from r as destObjectName,
// overwriting any existing object.
func (c *Client) UploadFromReader(ctx context.Context, destObjectName string, r io.Reader) error {
	return c.do(ctx, "UploadFromReader", destObjectName, func(b backend.Bucket) error {
		return c.upload(ctx, b, destObjectName, r)
	})
}

func (c *Client) upload(ctx context.Context, b backend.Bucket, objectName string, r io.Reader) error {
	n, err := b.Put(ctx, objectName, r)
	metrics.BytesUploadedTotal.Add(float64(n))
	return err
}

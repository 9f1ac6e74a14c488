package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GCS is the Google Cloud Storage driver. Filtering, ordering and copies are
// all performed server-side.
type GCS struct {
	client *gcs.Client
}

// NewGCS creates a GCS driver that talks to the JSON API over HTTP.
// Credentials come from opts (typically option.WithTokenSource).
func NewGCS(ctx context.Context, opts ...option.ClientOption) (*GCS, error) {
	opts = append([]option.ClientOption{option.WithUserAgent(UserAgent)}, opts...)
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}
	return &GCS{client: client}, nil
}

// NewGCSGRPC creates a GCS driver that uses the gRPC API.
func NewGCSGRPC(ctx context.Context, opts ...option.ClientOption) (*GCS, error) {
	opts = append([]option.ClientOption{
		option.WithGRPCDialOption(grpc.WithUserAgent(UserAgent)),
	}, opts...)
	client, err := gcs.NewGRPCClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS gRPC client: %w", err)
	}
	return &GCS{client: client}, nil
}

// NewGCSFromClient wraps a pre-configured GCS client. This is primarily used
// for testing against an emulator.
func NewGCSFromClient(client *gcs.Client) *GCS {
	return &GCS{client: client}
}

// Bucket returns a handle for the named bucket.
func (g *GCS) Bucket(name string) Bucket {
	return &gcsBucket{name: name, handle: g.client.Bucket(name)}
}

// Close closes the underlying GCS client.
func (g *GCS) Close() error {
	return g.client.Close()
}

type gcsBucket struct {
	name   string
	handle *gcs.BucketHandle
}

func (b *gcsBucket) Name() string {
	return b.name
}

func (b *gcsBucket) NewReader(ctx context.Context, object string) (io.ReadCloser, error) {
	r, err := b.handle.Object(object).NewReader(ctx)
	if err != nil {
		return nil, translateGCSError(b.name, object, err)
	}
	return r, nil
}

func (b *gcsBucket) Put(ctx context.Context, object string, r io.Reader) (int64, error) {
	// Cancelling the writer's context is the only way to abort an upload.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := b.handle.Object(object).NewWriter(ctx)
	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		_ = w.Close()
		return 0, fmt.Errorf("uploading to GCS: %w", translateGCSError(b.name, object, err))
	}
	if err := w.Close(); err != nil {
		return 0, translateGCSError(b.name, object, err)
	}
	return n, nil
}

func (b *gcsBucket) Delete(ctx context.Context, object string) error {
	if err := b.handle.Object(object).Delete(ctx); err != nil {
		return translateGCSError(b.name, object, err)
	}
	return nil
}

func (b *gcsBucket) Exists(ctx context.Context, object string) (bool, error) {
	_, err := b.handle.Object(object).Attrs(ctx)
	if err != nil {
		err = translateGCSError(b.name, object, err)
		if IsNotFound(err) && !IsBucketNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *gcsBucket) Copy(ctx context.Context, srcObject, dstObject string) error {
	src := b.handle.Object(srcObject)
	dst := b.handle.Object(dstObject)
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return translateGCSError(b.name, srcObject, err)
	}
	return nil
}

func (b *gcsBucket) List(ctx context.Context, q *Query) ([]string, error) {
	query := &gcs.Query{}
	maxResults := 0
	if q != nil {
		query.Prefix = q.Prefix
		query.MatchGlob = q.MatchGlob
		query.StartOffset = q.StartOffset
		query.EndOffset = q.EndOffset
		maxResults = q.MaxResults
	}
	if err := query.SetAttrSelection([]string{"Name"}); err != nil {
		return nil, fmt.Errorf("selecting list attributes: %w", err)
	}

	it := b.handle.Objects(ctx, query)
	names := []string{}
	for maxResults <= 0 || len(names) < maxResults {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, translateGCSError(b.name, "", err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// translateGCSError converts errors from the GCS client, over either
// transport, into *Error. Errors without a recognizable status are returned
// unchanged.
func translateGCSError(bucket, object string, err error) error {
	if err == nil {
		return nil
	}
	// Object calls wrap the JSON API 404 in ErrObjectNotExist even when the
	// bucket is the thing missing.
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == http.StatusNotFound && strings.Contains(gErr.Message, bucketNotExistMarker) {
		return errBucketNotExist(err)
	}
	if errors.Is(err, gcs.ErrBucketNotExist) {
		return errBucketNotExist(err)
	}
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return errObjectNotExist(bucket, object, err)
	}

	if errors.As(err, &gErr) {
		return NewError(gErr.Code, gErr.Message, err)
	}

	var aErr *apierror.APIError
	if errors.As(err, &aErr) {
		if code := aErr.HTTPCode(); code > 0 {
			return NewError(code, aErr.Reason(), err)
		}
		if st := aErr.GRPCStatus(); st != nil {
			if code := httpStatusFromGRPC(st.Code()); code != 0 {
				return NewError(code, st.Message(), err)
			}
		}
		return err
	}

	if st, ok := status.FromError(err); ok {
		if code := httpStatusFromGRPC(st.Code()); code != 0 {
			return NewError(code, st.Message(), err)
		}
	}
	return err
}

// httpStatusFromGRPC maps the gRPC codes the client distinguishes to their
// HTTP equivalents. Other codes map to 0.
func httpStatusFromGRPC(code codes.Code) int {
	switch code {
	case codes.NotFound:
		return http.StatusNotFound
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return 0
	}
}

// Ensure GCS implements Backend at compile time.
var _ Backend = (*GCS)(nil)

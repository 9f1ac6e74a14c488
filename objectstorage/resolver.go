package objectstorage

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/replit/object-storage-go/backend"
	"github.com/replit/object-storage-go/internal/metrics"
	"github.com/replit/object-storage-go/internal/sidecar"
)

// resolver determines the client's bucket once and hands out the memoized
// handle. Failed lookups are not memoized; the next call tries again.
type resolver struct {
	backend backend.Backend
	sidecar *sidecar.Client
	logger  *slog.Logger

	// mu is held across the sidecar lookup so concurrent first calls share
	// a single request.
	mu       sync.Mutex
	bucketID string
	handle   backend.Bucket
}

func newResolver(b backend.Backend, sc *sidecar.Client, bucketID string, logger *slog.Logger) *resolver {
	return &resolver{backend: b, sidecar: sc, bucketID: bucketID, logger: logger}
}

// id returns the effective bucket id.
func (r *resolver) id(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveBucketID(ctx)
}

// bucket returns the memoized bucket handle, resolving it on first use.
func (r *resolver) bucket(ctx context.Context) (backend.Bucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handle != nil {
		return r.handle, nil
	}
	id, err := r.resolveBucketID(ctx)
	if err != nil {
		return nil, err
	}
	r.handle = r.backend.Bucket(id)
	return r.handle, nil
}

// resolveBucketID must be called with mu held.
func (r *resolver) resolveBucketID(ctx context.Context) (string, error) {
	if r.bucketID != "" {
		return r.bucketID, nil
	}

	id, err := r.sidecar.DefaultBucket(ctx)
	if err != nil {
		if errors.Is(err, sidecar.ErrNoDefaultBucket) {
			metrics.DefaultBucketLookupsTotal.WithLabelValues("empty").Inc()
			return "", &Error{Code: ErrDefaultBucket.Code, Message: err.Error()}
		}
		metrics.DefaultBucketLookupsTotal.WithLabelValues("error").Inc()
		r.logger.WarnContext(ctx, "default bucket lookup failed", "sidecar", r.sidecar.BaseURL(), "error", err)
		return "", &Error{Code: ErrDefaultBucket.Code, Message: "failed to request default bucket", Err: err}
	}

	metrics.DefaultBucketLookupsTotal.WithLabelValues("success").Inc()
	r.logger.InfoContext(ctx, "resolved default bucket", "bucket", id)
	r.bucketID = id
	return id, nil
}

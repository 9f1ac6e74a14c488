// Package backend defines the blob capability set consumed by the object
// storage client, and the drivers that implement it.
//
// A Backend hands out Bucket handles by name. Handles are cheap and perform no
// I/O until an operation is invoked on them. Every driver reports failures as
// *Error values carrying an HTTP-style status code so the client can apply a
// single error taxonomy regardless of the underlying provider:
//
//	404 + BucketNotExistMessage  the bucket itself is missing
//	404                          the object is missing
//	401, 403, 429                authentication, authorization, rate limiting
//
// Drivers:
//
//	GCS     Google Cloud Storage (production backend, HTTP or gRPC transport)
//	S3      Amazon S3 and S3-compatible stores
//	Azure   Azure Blob Storage (a container plays the role of a bucket)
//	Memory  in-process maps, for tests and local development
//	Local   one directory per bucket on the local filesystem
//	SQLite  a single SQLite database file
package backend

import (
	"context"
	"io"
)

// UserAgent is sent by drivers that support a custom user agent.
const UserAgent = "replit-object-storage-go"

// Backend is a connection to a blob store. All methods must be safe for
// concurrent use.
type Backend interface {
	// Bucket returns a handle bound to the named bucket. It performs no I/O,
	// so a missing bucket is only reported by operations on the handle.
	Bucket(name string) Bucket

	// Close releases the underlying connection.
	Close() error
}

// Bucket is a handle to a single bucket.
type Bucket interface {
	// Name returns the bucket identifier the handle is bound to.
	Name() string

	// NewReader opens the named object for reading. The caller must close the
	// returned reader.
	NewReader(ctx context.Context, object string) (io.ReadCloser, error)

	// Put writes the object, overwriting any existing content, and returns
	// the number of bytes written.
	Put(ctx context.Context, object string, r io.Reader) (int64, error)

	// Delete removes the object. A missing object is reported as a 404.
	Delete(ctx context.Context, object string) error

	// Exists reports whether the object exists.
	Exists(ctx context.Context, object string) (bool, error)

	// Copy copies srcObject to dstObject within the bucket, overwriting the
	// destination.
	Copy(ctx context.Context, srcObject, dstObject string) error

	// List returns the names of the objects matching q in lexicographic
	// order. A nil query lists every object.
	List(ctx context.Context, q *Query) ([]string, error)
}

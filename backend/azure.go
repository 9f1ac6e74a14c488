package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureBlobAPI defines the subset of the Azure Blob Storage client interface
// that the driver uses. This allows mocking in tests.
type AzureBlobAPI interface {
	// UploadStream uploads data to a blob, overwriting if it already exists.
	UploadStream(ctx context.Context, containerName, blobName string, r io.Reader) error
	// DownloadStream opens a blob for reading.
	DownloadStream(ctx context.Context, containerName, blobName string) (io.ReadCloser, error)
	// DeleteBlob deletes a blob. Returns an error if the blob does not exist.
	DeleteBlob(ctx context.Context, containerName, blobName string) error
	// GetBlobProperties fetches blob properties, failing if it does not exist.
	GetBlobProperties(ctx context.Context, containerName, blobName string) error
	// CopyBlob copies a blob within a container.
	CopyBlob(ctx context.Context, containerName, srcBlob, dstBlob string) error
	// ListBlobs returns the names of all blobs under prefix.
	ListBlobs(ctx context.Context, containerName, prefix string) ([]string, error)
}

// AzureOptions configures NewAzure.
type AzureOptions struct {
	// AccountURL is the storage account URL
	// (e.g. https://account.blob.core.windows.net).
	AccountURL string
	// ConnectionString selects connection-string auth when set.
	ConnectionString string
	// UseManagedIdentity selects managed identity credentials. Otherwise
	// DefaultAzureCredential is used.
	UseManagedIdentity bool
}

// Azure is the Azure Blob Storage driver. Each bucket maps to a container of
// the same name.
type Azure struct {
	client AzureBlobAPI
}

// NewAzure creates an Azure driver for the configured storage account.
func NewAzure(opts AzureOptions) (*Azure, error) {
	client, err := newRealAzureClient(opts.AccountURL, opts.ConnectionString, opts.UseManagedIdentity)
	if err != nil {
		return nil, fmt.Errorf("creating Azure client: %w", err)
	}
	return &Azure{client: client}, nil
}

// NewAzureWithClient creates an Azure driver with a pre-configured client.
// This is primarily used for testing with mock clients.
func NewAzureWithClient(client AzureBlobAPI) *Azure {
	return &Azure{client: client}
}

// Bucket returns a handle for the named container.
func (d *Azure) Bucket(name string) Bucket {
	return &azureBucket{name: name, client: d.client}
}

// Close is a no-op; the Azure SDK client holds no resources that need
// releasing.
func (d *Azure) Close() error {
	return nil
}

type azureBucket struct {
	name   string
	client AzureBlobAPI
}

func (b *azureBucket) Name() string {
	return b.name
}

func (b *azureBucket) NewReader(ctx context.Context, object string) (io.ReadCloser, error) {
	r, err := b.client.DownloadStream(ctx, b.name, object)
	if err != nil {
		return nil, translateAzureError(b.name, object, err)
	}
	return r, nil
}

func (b *azureBucket) Put(ctx context.Context, object string, r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	if err := b.client.UploadStream(ctx, b.name, object, cr); err != nil {
		return 0, translateAzureError(b.name, object, err)
	}
	return cr.n, nil
}

func (b *azureBucket) Delete(ctx context.Context, object string) error {
	if err := b.client.DeleteBlob(ctx, b.name, object); err != nil {
		return translateAzureError(b.name, object, err)
	}
	return nil
}

func (b *azureBucket) Exists(ctx context.Context, object string) (bool, error) {
	if err := b.client.GetBlobProperties(ctx, b.name, object); err != nil {
		err = translateAzureError(b.name, object, err)
		if IsNotFound(err) && !IsBucketNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *azureBucket) Copy(ctx context.Context, srcObject, dstObject string) error {
	// Azure accepts a copy from a missing source and fails it asynchronously,
	// so the source is checked up front.
	if err := b.client.GetBlobProperties(ctx, b.name, srcObject); err != nil {
		return translateAzureError(b.name, srcObject, err)
	}
	if err := b.client.CopyBlob(ctx, b.name, srcObject, dstObject); err != nil {
		return translateAzureError(b.name, srcObject, err)
	}
	return nil
}

func (b *azureBucket) List(ctx context.Context, q *Query) ([]string, error) {
	m, err := newMatcher(q)
	if err != nil {
		return nil, err
	}
	names, err := b.client.ListBlobs(ctx, b.name, m.q.Prefix)
	if err != nil {
		return nil, translateAzureError(b.name, "", err)
	}
	sort.Strings(names)
	return m.filter(names), nil
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// translateAzureError converts Azure SDK errors into *Error. Errors without a
// response status are returned unchanged.
func translateAzureError(container, blob string, err error) error {
	if err == nil {
		return nil
	}
	if bloberror.HasCode(err, bloberror.ContainerNotFound, bloberror.ContainerBeingDeleted) {
		return errBucketNotExist(err)
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ResourceNotFound) {
		return errObjectNotExist(container, blob, err)
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		if respErr.StatusCode == http.StatusNotFound {
			return errObjectNotExist(container, blob, err)
		}
		return NewError(respErr.StatusCode, respErr.ErrorCode, err)
	}
	return err
}

// Ensure Azure implements Backend at compile time.
var _ Backend = (*Azure)(nil)

package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API defines the subset of the AWS S3 client interface that the driver
// uses. This allows mocking in tests.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Options configures NewS3.
type S3Options struct {
	// Region is the AWS region. Defaults to us-east-1.
	Region string
	// EndpointURL overrides the S3 endpoint, for S3-compatible stores.
	EndpointURL string
	// UsePathStyle forces path-style addressing.
	UsePathStyle bool
	// AccessKeyID and SecretAccessKey select static credentials. When either
	// is empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// S3 is the Amazon S3 driver. S3 cannot glob or bound listings server-side,
// so List filters client-side over the prefix listing.
type S3 struct {
	client S3API
}

// NewS3 creates an S3 driver using the default AWS credential chain, with
// optional overrides for endpoint, path-style addressing and static keys.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.EndpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
		})
	}
	if opts.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	slog.Debug("S3 backend initialized", "region", region, "endpoint", opts.EndpointURL)
	return &S3{client: s3.NewFromConfig(cfg, s3Opts...)}, nil
}

// NewS3WithClient creates an S3 driver with a pre-configured client. This is
// primarily used for testing with mock clients.
func NewS3WithClient(client S3API) *S3 {
	return &S3{client: client}
}

// Bucket returns a handle for the named bucket.
func (d *S3) Bucket(name string) Bucket {
	return &s3Bucket{name: name, client: d.client}
}

// Close is a no-op; the AWS SDK client holds no resources that need releasing.
func (d *S3) Close() error {
	return nil
}

type s3Bucket struct {
	name   string
	client S3API
}

func (b *s3Bucket) Name() string {
	return b.name
}

func (b *s3Bucket) NewReader(ctx context.Context, object string) (io.ReadCloser, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(object),
	})
	if err != nil {
		return nil, translateS3Error(b.name, object, err)
	}
	return resp.Body, nil
}

// Put buffers the body so the SDK can sign it with a known content length.
func (b *s3Bucket) Put(ctx context.Context, object string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("reading object data: %w", err)
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.name),
		Key:           aws.String(object),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return 0, translateS3Error(b.name, object, err)
	}
	return int64(len(data)), nil
}

// Delete checks for the object first because S3 DeleteObject succeeds on
// missing keys.
func (b *s3Bucket) Delete(ctx context.Context, object string) error {
	if _, err := b.head(ctx, object); err != nil {
		return err
	}
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(object),
	})
	if err != nil {
		return translateS3Error(b.name, object, err)
	}
	return nil
}

func (b *s3Bucket) Exists(ctx context.Context, object string) (bool, error) {
	if _, err := b.head(ctx, object); err != nil {
		if IsNotFound(err) && !IsBucketNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *s3Bucket) head(ctx context.Context, object string) (*s3.HeadObjectOutput, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(object),
	})
	if err != nil {
		return nil, translateS3Error(b.name, object, err)
	}
	return out, nil
}

func (b *s3Bucket) Copy(ctx context.Context, srcObject, dstObject string) error {
	copySource := (&url.URL{Path: b.name + "/" + srcObject}).EscapedPath()
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.name),
		Key:        aws.String(dstObject),
		CopySource: aws.String(copySource),
	})
	if err != nil {
		return translateS3Error(b.name, srcObject, err)
	}
	return nil
}

func (b *s3Bucket) List(ctx context.Context, q *Query) ([]string, error) {
	m, err := newMatcher(q)
	if err != nil {
		return nil, err
	}

	input := &s3.ListObjectsV2Input{Bucket: aws.String(b.name)}
	if m.q.Prefix != "" {
		input.Prefix = aws.String(m.q.Prefix)
	}

	var names []string
	paginator := s3.NewListObjectsV2Paginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, translateS3Error(b.name, "", err)
		}
		stop := false
		for _, obj := range page.Contents {
			name := aws.ToString(obj.Key)
			if m.past(name) {
				stop = true
				break
			}
			names = append(names, name)
		}
		if stop {
			break
		}
	}

	// S3 lists in UTF-8 binary order already; sorting guards S3-compatible
	// stores that do not.
	sort.Strings(names)
	return m.filter(names), nil
}

// translateS3Error converts AWS SDK errors into *Error. Errors without a
// recognizable code or status are returned unchanged.
func translateS3Error(bucket, object string, err error) error {
	if err == nil {
		return nil
	}

	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return errBucketNotExist(err)
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return errObjectNotExist(bucket, object, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return errBucketNotExist(err)
		case "NoSuchKey", "NotFound":
			return errObjectNotExist(bucket, object, err)
		case "AccessDenied", "AllAccessDisabled":
			return NewError(http.StatusForbidden, apiErr.ErrorMessage(), err)
		case "SlowDown", "TooManyRequests", "RequestLimitExceeded":
			return NewError(http.StatusTooManyRequests, apiErr.ErrorMessage(), err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return NewError(http.StatusUnauthorized, apiErr.ErrorMessage(), err)
		}
	}

	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		if code == http.StatusNotFound {
			return errObjectNotExist(bucket, object, err)
		}
		return NewError(code, http.StatusText(code), err)
	}
	return err
}

// Ensure S3 implements Backend at compile time.
var _ Backend = (*S3)(nil)

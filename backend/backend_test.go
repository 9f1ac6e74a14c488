package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const testBucket = "test-bucket"

// driverCase builds a Backend with testBucket already created.
type driverCase struct {
	name string
	new  func(t *testing.T) Backend
	// reportsMissingBucket is false for drivers whose reads cannot tell a
	// missing bucket from a missing object. The GCS XML read path drops the
	// bucket message.
	reportsMissingBucket bool
	// serverSideGlob is false for emulators that do not implement matchGlob.
	serverSideGlob bool
}

func allDrivers() []driverCase {
	return []driverCase{
		{
			name: "memory",
			new: func(t *testing.T) Backend {
				return NewMemory(testBucket)
			},
			reportsMissingBucket: true,
			serverSideGlob:       true,
		},
		{
			name: "local",
			new: func(t *testing.T) Backend {
				t.Helper()
				l, err := NewLocal(t.TempDir())
				if err != nil {
					t.Fatalf("NewLocal failed: %v", err)
				}
				if err := l.CreateBucket(testBucket); err != nil {
					t.Fatalf("CreateBucket failed: %v", err)
				}
				return l
			},
			reportsMissingBucket: true,
			serverSideGlob:       true,
		},
		{
			name: "sqlite",
			new: func(t *testing.T) Backend {
				t.Helper()
				s, err := NewSQLite(filepath.Join(t.TempDir(), "objects.db"))
				if err != nil {
					t.Fatalf("NewSQLite failed: %v", err)
				}
				t.Cleanup(func() { s.Close() })
				if err := s.CreateBucket(context.Background(), testBucket); err != nil {
					t.Fatalf("CreateBucket failed: %v", err)
				}
				return s
			},
			reportsMissingBucket: true,
			serverSideGlob:       true,
		},
		{
			name: "s3",
			new: func(t *testing.T) Backend {
				return NewS3WithClient(newMockS3Client(testBucket))
			},
			reportsMissingBucket: true,
			serverSideGlob:       true,
		},
		{
			name: "azure",
			new: func(t *testing.T) Backend {
				return NewAzureWithClient(newMockAzureClient(testBucket))
			},
			reportsMissingBucket: true,
			serverSideGlob:       true,
		},
		{
			name: "gcs",
			new: func(t *testing.T) Backend {
				return newFakeGCS(t, testBucket)
			},
		},
	}
}

func putString(t *testing.T, b Bucket, name, content string) {
	t.Helper()
	n, err := b.Put(context.Background(), name, strings.NewReader(content))
	if err != nil {
		t.Fatalf("Put(%q) failed: %v", name, err)
	}
	if n != int64(len(content)) {
		t.Errorf("Put(%q) wrote %d bytes, want %d", name, n, len(content))
	}
}

func readString(t *testing.T, b Bucket, name string) string {
	t.Helper()
	r, err := b.NewReader(context.Background(), name)
	if err != nil {
		t.Fatalf("NewReader(%q) failed: %v", name, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading %q failed: %v", name, err)
	}
	return string(data)
}

func TestDrivers(t *testing.T) {
	for _, dc := range allDrivers() {
		t.Run(dc.name, func(t *testing.T) {
			t.Run("PutAndRead", func(t *testing.T) {
				b := dc.new(t).Bucket(testBucket)
				if b.Name() != testBucket {
					t.Errorf("Name() = %q, want %q", b.Name(), testBucket)
				}
				putString(t, b, "hello.txt", "Hello, object storage!")
				if got := readString(t, b, "hello.txt"); got != "Hello, object storage!" {
					t.Errorf("content = %q", got)
				}
			})

			t.Run("PutOverwrites", func(t *testing.T) {
				b := dc.new(t).Bucket(testBucket)
				putString(t, b, "file.txt", "first version")
				putString(t, b, "file.txt", "second")
				if got := readString(t, b, "file.txt"); got != "second" {
					t.Errorf("content = %q, want %q", got, "second")
				}
			})

			t.Run("PutBinaryAndEmpty", func(t *testing.T) {
				b := dc.new(t).Bucket(testBucket)
				data := []byte{0x00, 0xff, 0x10, 0x80}
				if _, err := b.Put(context.Background(), "bin", bytes.NewReader(data)); err != nil {
					t.Fatalf("Put failed: %v", err)
				}
				if got := readString(t, b, "bin"); got != string(data) {
					t.Errorf("content = %x, want %x", got, data)
				}
				putString(t, b, "empty", "")
				if got := readString(t, b, "empty"); got != "" {
					t.Errorf("content = %q, want empty", got)
				}
			})

			t.Run("NestedNames", func(t *testing.T) {
				b := dc.new(t).Bucket(testBucket)
				putString(t, b, "dir/sub/deep.txt", "deep")
				if got := readString(t, b, "dir/sub/deep.txt"); got != "deep" {
					t.Errorf("content = %q", got)
				}
			})

			t.Run("ReadMissingObject", func(t *testing.T) {
				b := dc.new(t).Bucket(testBucket)
				_, err := b.NewReader(context.Background(), "missing.txt")
				if !IsNotFound(err) {
					t.Fatalf("NewReader(missing) error = %v, want 404", err)
				}
				if IsBucketNotFound(err) {
					t.Errorf("missing object reported as missing bucket: %v", err)
				}
			})

			t.Run("Exists", func(t *testing.T) {
				b := dc.new(t).Bucket(testBucket)
				ctx := context.Background()
				ok, err := b.Exists(ctx, "a.txt")
				if err != nil {
					t.Fatalf("Exists failed: %v", err)
				}
				if ok {
					t.Error("Exists(a.txt) = true before upload")
				}
				putString(t, b, "a.txt", "a")
				ok, err = b.Exists(ctx, "a.txt")
				if err != nil {
					t.Fatalf("Exists failed: %v", err)
				}
				if !ok {
					t.Error("Exists(a.txt) = false after upload")
				}
			})

			t.Run("Delete", func(t *testing.T) {
				b := dc.new(t).Bucket(testBucket)
				ctx := context.Background()
				putString(t, b, "gone/soon.txt", "bye")
				if err := b.Delete(ctx, "gone/soon.txt"); err != nil {
					t.Fatalf("Delete failed: %v", err)
				}
				ok, err := b.Exists(ctx, "gone/soon.txt")
				if err != nil {
					t.Fatalf("Exists failed: %v", err)
				}
				if ok {
					t.Error("object still exists after Delete")
				}
				if err := b.Delete(ctx, "gone/soon.txt"); !IsNotFound(err) || IsBucketNotFound(err) {
					t.Errorf("second Delete error = %v, want object 404", err)
				}
			})

			t.Run("Copy", func(t *testing.T) {
				b := dc.new(t).Bucket(testBucket)
				ctx := context.Background()
				putString(t, b, "src.txt", "payload")
				putString(t, b, "dst.txt", "old")
				if err := b.Copy(ctx, "src.txt", "dst.txt"); err != nil {
					t.Fatalf("Copy failed: %v", err)
				}
				if got := readString(t, b, "dst.txt"); got != "payload" {
					t.Errorf("dst content = %q, want %q", got, "payload")
				}
				if got := readString(t, b, "src.txt"); got != "payload" {
					t.Errorf("src content = %q, want %q", got, "payload")
				}
				if err := b.Copy(ctx, "nope.txt", "x.txt"); !IsNotFound(err) {
					t.Errorf("Copy(missing) error = %v, want 404", err)
				}
			})

			t.Run("List", func(t *testing.T) {
				b := dc.new(t).Bucket(testBucket)
				for _, name := range []string{"b.txt", "a.txt", "d/x.txt", "d/e/y.txt", "c.log"} {
					putString(t, b, name, name)
				}
				tests := []struct {
					name  string
					query *Query
					glob  bool
					want  []string
				}{
					{"all", nil, false, []string{"a.txt", "b.txt", "c.log", "d/e/y.txt", "d/x.txt"}},
					{"prefix", &Query{Prefix: "d/"}, false, []string{"d/e/y.txt", "d/x.txt"}},
					{"start offset inclusive", &Query{StartOffset: "b.txt"}, false, []string{"b.txt", "c.log", "d/e/y.txt", "d/x.txt"}},
					{"end offset exclusive", &Query{EndOffset: "c.log"}, false, []string{"a.txt", "b.txt"}},
					{"offset range", &Query{StartOffset: "b", EndOffset: "d"}, false, []string{"b.txt", "c.log"}},
					{"max results", &Query{MaxResults: 2}, false, []string{"a.txt", "b.txt"}},
					{"no match", &Query{Prefix: "zzz"}, false, []string{}},
					{"glob single segment", &Query{MatchGlob: "*.txt"}, true, []string{"a.txt", "b.txt"}},
					{"glob any depth", &Query{MatchGlob: "d/**"}, true, []string{"d/e/y.txt", "d/x.txt"}},
					{"glob with prefix", &Query{Prefix: "d/", MatchGlob: "d/*.txt"}, true, []string{"d/x.txt"}},
				}
				for _, tt := range tests {
					if tt.glob && !dc.serverSideGlob {
						continue
					}
					t.Run(tt.name, func(t *testing.T) {
						got, err := b.List(context.Background(), tt.query)
						if err != nil {
							t.Fatalf("List failed: %v", err)
						}
						if got == nil {
							t.Fatal("List returned nil slice")
						}
						if !reflect.DeepEqual(got, tt.want) {
							t.Errorf("List = %v, want %v", got, tt.want)
						}
					})
				}
			})

			t.Run("MissingBucket", func(t *testing.T) {
				if !dc.reportsMissingBucket {
					t.Skip("driver does not distinguish missing buckets on object calls")
				}
				b := dc.new(t).Bucket("no-such-bucket")
				ctx := context.Background()

				_, err := b.NewReader(ctx, "a.txt")
				if !IsBucketNotFound(err) {
					t.Errorf("NewReader error = %v, want bucket 404", err)
				}
				_, err = b.Put(ctx, "a.txt", strings.NewReader("x"))
				if !IsBucketNotFound(err) {
					t.Errorf("Put error = %v, want bucket 404", err)
				}
				if err := b.Delete(ctx, "a.txt"); !IsBucketNotFound(err) {
					t.Errorf("Delete error = %v, want bucket 404", err)
				}
				if _, err := b.Exists(ctx, "a.txt"); !IsBucketNotFound(err) {
					t.Errorf("Exists error = %v, want bucket 404", err)
				}
				if _, err := b.List(ctx, nil); !IsBucketNotFound(err) {
					t.Errorf("List error = %v, want bucket 404", err)
				}
			})
		})
	}
}

func TestStatusHelpers(t *testing.T) {
	objErr := errObjectNotExist("b", "o", nil)
	bucketErr := errBucketNotExist(nil)
	forbidden := NewError(http.StatusForbidden, "denied", errors.New("cause"))

	if !IsNotFound(objErr) || IsBucketNotFound(objErr) {
		t.Errorf("object 404 misclassified: %v", objErr)
	}
	if !IsNotFound(bucketErr) || !IsBucketNotFound(bucketErr) {
		t.Errorf("bucket 404 misclassified: %v", bucketErr)
	}
	if StatusCode(forbidden) != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", StatusCode(forbidden))
	}
	if StatusCode(errors.New("plain")) != 0 {
		t.Error("StatusCode of a plain error should be 0")
	}

	// S3 omits the trailing period.
	s3Style := NewError(http.StatusNotFound, "The specified bucket does not exist", nil)
	if !IsBucketNotFound(s3Style) {
		t.Error("bucket message without trailing period not recognized")
	}

	wrapped := errors.Join(errors.New("context"), bucketErr)
	if !IsBucketNotFound(wrapped) {
		t.Error("wrapped bucket 404 not recognized")
	}
	if !errors.Is(forbidden, forbidden.Err) {
		t.Error("Unwrap does not expose the cause")
	}
}

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"
)

// tmpDirName holds in-flight writes. It is never a valid bucket name.
const tmpDirName = ".tmp"

// Local stores each bucket as a directory under RootDir and each object as a
// file at its name's path within that directory. Writes are atomic: data goes
// to a temp file which is fsynced and renamed into place.
type Local struct {
	// RootDir is the base directory holding one subdirectory per bucket.
	RootDir string
}

// NewLocal creates a Local driver rooted at rootDir, creating the root and the
// temp directory if they do not exist. Leftover temp files from interrupted
// writes are removed.
func NewLocal(rootDir string) (*Local, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root directory %q: %w", rootDir, err)
	}
	tmpDir := filepath.Join(rootDir, tmpDirName)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory %q: %w", tmpDir, err)
	}
	l := &Local{RootDir: rootDir}
	if err := l.cleanTempFiles(); err != nil {
		return nil, err
	}
	return l, nil
}

// CreateBucket creates the directory for the named bucket.
func (l *Local) CreateBucket(name string) error {
	if err := validBucketName(name); err != nil {
		return err
	}
	dir := filepath.Join(l.RootDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating bucket directory %q: %w", dir, err)
	}
	return nil
}

// Bucket returns a handle for the named bucket.
func (l *Local) Bucket(name string) Bucket {
	return &localBucket{name: name, l: l}
}

// Close is a no-op.
func (l *Local) Close() error {
	return nil
}

func (l *Local) cleanTempFiles() error {
	tmpDir := filepath.Join(l.RootDir, tmpDirName)
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(tmpDir, entry.Name()))
		}
	}
	return nil
}

func (l *Local) tempPath() string {
	return filepath.Join(l.RootDir, tmpDirName, "tmp-"+uuid.NewString())
}

func validBucketName(name string) error {
	if name == "" || name == tmpDirName || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) {
		return errInvalidArgument(fmt.Sprintf("invalid bucket name %q", name), nil)
	}
	return nil
}

// validObjectName rejects names that cannot be mapped to a file inside the
// bucket directory.
func validObjectName(name string) error {
	if name == "" || strings.HasSuffix(name, "/") || strings.ContainsRune(name, 0) {
		return errInvalidArgument(fmt.Sprintf("invalid object name %q", name), nil)
	}
	if !filepath.IsLocal(filepath.FromSlash(name)) || path.Clean(name) != name {
		return errInvalidArgument(fmt.Sprintf("invalid object name %q", name), nil)
	}
	return nil
}

type localBucket struct {
	name string
	l    *Local
}

func (b *localBucket) Name() string {
	return b.name
}

// dir returns the bucket directory, or a bucket 404 if it does not exist.
func (b *localBucket) dir() (string, error) {
	if err := validBucketName(b.name); err != nil {
		return "", err
	}
	dir := filepath.Join(b.l.RootDir, b.name)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errBucketNotExist(nil)
		}
		return "", fmt.Errorf("stat bucket directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return "", errBucketNotExist(nil)
	}
	return dir, nil
}

// objectPath resolves the file path of an object after validating both names.
func (b *localBucket) objectPath(object string) (string, error) {
	dir, err := b.dir()
	if err != nil {
		return "", err
	}
	if err := validObjectName(object); err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(object)), nil
}

func (b *localBucket) NewReader(ctx context.Context, object string) (io.ReadCloser, error) {
	p, err := b.objectPath(object)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if isMissing(err) {
			return nil, errObjectNotExist(b.name, object, nil)
		}
		return nil, fmt.Errorf("opening object file %q/%q: %w", b.name, object, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat object file %q/%q: %w", b.name, object, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, errObjectNotExist(b.name, object, nil)
	}
	return f, nil
}

// Put writes the object using the atomic write pattern: temp file, fsync,
// rename.
func (b *localBucket) Put(ctx context.Context, object string, r io.Reader) (int64, error) {
	p, err := b.objectPath(object)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, fmt.Errorf("creating parent directories for %q/%q: %w", b.name, object, err)
	}

	tmpPath := b.l.tempPath()
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	n, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("writing object data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, p); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("renaming temp file to final path: %w", err)
	}
	return n, nil
}

// Delete removes the object file and any parent directories left empty, up
// to the bucket directory.
func (b *localBucket) Delete(ctx context.Context, object string) error {
	p, err := b.objectPath(object)
	if err != nil {
		return err
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		if err == nil || isMissing(err) {
			return errObjectNotExist(b.name, object, nil)
		}
		return fmt.Errorf("stat object file %q/%q: %w", b.name, object, err)
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("removing object file %q/%q: %w", b.name, object, err)
	}

	bucketDir := filepath.Join(b.l.RootDir, b.name)
	cleanEmptyParents(filepath.Dir(p), bucketDir)
	return nil
}

func (b *localBucket) Exists(ctx context.Context, object string) (bool, error) {
	p, err := b.objectPath(object)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err == nil {
		return !info.IsDir(), nil
	}
	if isMissing(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking object existence %q/%q: %w", b.name, object, err)
}

func (b *localBucket) Copy(ctx context.Context, srcObject, dstObject string) error {
	src, err := b.NewReader(ctx, srcObject)
	if err != nil {
		return err
	}
	defer src.Close()

	if _, err := b.Put(ctx, dstObject, src); err != nil {
		return fmt.Errorf("copying object data: %w", err)
	}
	return nil
}

func (b *localBucket) List(ctx context.Context, q *Query) ([]string, error) {
	m, err := newMatcher(q)
	if err != nil {
		return nil, err
	}
	dir, err := b.dir()
	if err != nil {
		return nil, err
	}

	var names []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, m.q.Prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking bucket directory %q: %w", dir, err)
	}

	// WalkDir visits "a/b" before "a.txt", which is not byte order.
	sort.Strings(names)
	return m.filter(names), nil
}

// cleanEmptyParents removes empty directories starting from dir up to (but not
// including) stopAt.
func cleanEmptyParents(dir, stopAt string) {
	dir = filepath.Clean(dir)
	stopAt = filepath.Clean(stopAt)

	for dir != stopAt && strings.HasPrefix(dir, stopAt) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}

// isMissing reports whether a filesystem error means the path does not name
// an object. A file standing where a parent directory is expected yields
// ENOTDIR rather than ENOENT.
func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

// Ensure Local implements Backend at compile time.
var _ Backend = (*Local)(nil)

package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Memory is an in-process driver backed by maps. Buckets must be created with
// CreateBucket before use; operations on unknown buckets report a missing
// bucket, like the real services do.
type Memory struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemory creates a Memory driver with the given buckets already created.
func NewMemory(buckets ...string) *Memory {
	m := &Memory{buckets: make(map[string]map[string][]byte)}
	for _, name := range buckets {
		m.CreateBucket(name)
	}
	return m
}

// CreateBucket creates the named bucket. It is a no-op if the bucket exists.
func (m *Memory) CreateBucket(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[name]; !ok {
		m.buckets[name] = make(map[string][]byte)
	}
}

// Bucket returns a handle for the named bucket.
func (m *Memory) Bucket(name string) Bucket {
	return &memoryBucket{name: name, m: m}
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

type memoryBucket struct {
	name string
	m    *Memory
}

func (b *memoryBucket) Name() string {
	return b.name
}

// objects returns the bucket's object map. Callers must hold b.m.mu.
func (b *memoryBucket) objects() (map[string][]byte, error) {
	objects, ok := b.m.buckets[b.name]
	if !ok {
		return nil, errBucketNotExist(nil)
	}
	return objects, nil
}

func (b *memoryBucket) NewReader(ctx context.Context, object string) (io.ReadCloser, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()

	objects, err := b.objects()
	if err != nil {
		return nil, err
	}
	data, ok := objects[object]
	if !ok {
		return nil, errObjectNotExist(b.name, object, nil)
	}
	// Stored slices are never mutated in place, so readers can share them.
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memoryBucket) Put(ctx context.Context, object string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("reading object data: %w", err)
	}

	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	objects, err := b.objects()
	if err != nil {
		return 0, err
	}
	objects[object] = data
	return int64(len(data)), nil
}

func (b *memoryBucket) Delete(ctx context.Context, object string) error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	objects, err := b.objects()
	if err != nil {
		return err
	}
	if _, ok := objects[object]; !ok {
		return errObjectNotExist(b.name, object, nil)
	}
	delete(objects, object)
	return nil
}

func (b *memoryBucket) Exists(ctx context.Context, object string) (bool, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()

	objects, err := b.objects()
	if err != nil {
		return false, err
	}
	_, ok := objects[object]
	return ok, nil
}

func (b *memoryBucket) Copy(ctx context.Context, srcObject, dstObject string) error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	objects, err := b.objects()
	if err != nil {
		return err
	}
	data, ok := objects[srcObject]
	if !ok {
		return errObjectNotExist(b.name, srcObject, nil)
	}
	objects[dstObject] = data
	return nil
}

func (b *memoryBucket) List(ctx context.Context, q *Query) ([]string, error) {
	m, err := newMatcher(q)
	if err != nil {
		return nil, err
	}

	b.m.mu.RLock()
	objects, err := b.objects()
	if err != nil {
		b.m.mu.RUnlock()
		return nil, err
	}
	names := make([]string, 0, len(objects))
	for name := range objects {
		names = append(names, name)
	}
	b.m.mu.RUnlock()

	sort.Strings(names)
	return m.filter(names), nil
}

// Ensure Memory implements Backend at compile time.
var _ Backend = (*Memory)(nil)

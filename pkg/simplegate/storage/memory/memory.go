package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/tendant/simple-gate/pkg/simplegate"
)

type object struct {
	data []byte
	meta simplegate.ObjectMetadata
	etag string
}

// Backend is an in-memory implementation of the simplegate.ObjectStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects: make(map[string]object),
	}
}

// Put stores the reader's content under key
func (b *Backend) Put(ctx context.Context, key string, r io.Reader, meta simplegate.ObjectMetadata) (*simplegate.StoredObject, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if meta.ContentType == "" {
		meta.ContentType = simplegate.DefaultContentType
	}
	if meta.UploadedAt.IsZero() {
		meta.UploadedAt = time.Now()
	}

	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])

	b.mu.Lock()
	b.objects[key] = object{data: data, meta: meta, etag: etag}
	b.mu.Unlock()

	return &simplegate.StoredObject{
		Key:      key,
		Size:     int64(len(data)),
		ETag:     etag,
		Uploaded: meta.UploadedAt,
	}, nil
}

// Get opens the object at key
func (b *Backend) Get(ctx context.Context, key string) (*simplegate.Object, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[key]
	if !exists {
		return nil, simplegate.ErrObjectNotFound
	}

	return &simplegate.Object{
		Key:         key,
		ContentType: obj.meta.ContentType,
		Size:        int64(len(obj.data)),
		ETag:        obj.etag,
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
	}, nil
}

// Metadata returns what was stored alongside key
func (b *Backend) Metadata(key string) (simplegate.ObjectMetadata, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[key]
	return obj.meta, exists
}

var _ simplegate.ObjectStore = (*Backend)(nil)

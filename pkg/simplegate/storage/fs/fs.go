package fs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tendant/simple-gate/pkg/simplegate"
)

// metaSuffix names the sidecar file holding an object's metadata.
const metaSuffix = ".meta.json"

// Backend is a filesystem implementation of the simplegate.ObjectStore interface
type Backend struct {
	baseDir string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files
}

type sidecar struct {
	ContentType  string    `json:"content_type"`
	OriginalName string    `json:"original_name,omitempty"`
	UploadedBy   string    `json:"uploaded_by,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at"`
	ETag         string    `json:"etag"`
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: config.BaseDir}, nil
}

// path resolves key inside baseDir, refusing keys that would escape it
func (b *Backend) path(key string) (string, error) {
	if key == "" || strings.HasSuffix(key, metaSuffix) {
		return "", fmt.Errorf("invalid object key %q", key)
	}

	p := filepath.Join(b.baseDir, filepath.FromSlash(key))
	rel, err := filepath.Rel(b.baseDir, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return p, nil
}

// Put writes the reader's content to <baseDir>/<key> and its metadata to a
// sidecar file next to it
func (b *Backend) Put(ctx context.Context, key string, r io.Reader, meta simplegate.ObjectMetadata) (*simplegate.StoredObject, error) {
	filePath, err := b.path(key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hash := md5.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	if meta.ContentType == "" {
		meta.ContentType = simplegate.DefaultContentType
	}
	if meta.UploadedAt.IsZero() {
		meta.UploadedAt = time.Now()
	}

	sc := sidecar{
		ContentType:  meta.ContentType,
		OriginalName: meta.OriginalName,
		UploadedBy:   meta.UploadedBy,
		UploadedAt:   meta.UploadedAt.UTC(),
		ETag:         hex.EncodeToString(hash.Sum(nil)),
	}
	scData, err := json.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(filePath+metaSuffix, scData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}

	return &simplegate.StoredObject{
		Key:      key,
		Size:     size,
		ETag:     sc.ETag,
		Uploaded: sc.UploadedAt,
	}, nil
}

// Get opens <baseDir>/<key>
func (b *Backend) Get(ctx context.Context, key string) (*simplegate.Object, error) {
	filePath, err := b.path(key)
	if err != nil {
		return nil, simplegate.ErrObjectNotFound
	}

	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return nil, simplegate.ErrObjectNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, simplegate.ErrObjectNotFound
	}

	obj := &simplegate.Object{
		Key:  key,
		Size: info.Size(),
		Body: file,
	}

	if data, err := os.ReadFile(filePath + metaSuffix); err == nil {
		var sc sidecar
		if json.Unmarshal(data, &sc) == nil {
			obj.ContentType = sc.ContentType
			obj.ETag = sc.ETag
		}
	}

	if obj.ContentType == "" {
		obj.ContentType = detectContentType(file)
	}

	return obj, nil
}

// detectContentType sniffs the first 512 bytes and rewinds the file
func detectContentType(file *os.File) string {
	contentType := simplegate.DefaultContentType
	buffer := make([]byte, 512)
	if n, err := file.Read(buffer); err == nil {
		contentType = http.DetectContentType(buffer[:n])
	}
	_, _ = file.Seek(0, io.SeekStart)
	return contentType
}

var _ simplegate.ObjectStore = (*Backend)(nil)

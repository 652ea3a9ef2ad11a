package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-gate/pkg/simplegate"
)

type fakeObject struct {
	data        []byte
	contentType string
	meta        map[string]string
	modified    time.Time
}

// fakeS3 speaks just enough of the path-style S3 REST API for PutObject,
// HeadObject and GetObject.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]fakeObject
	fail    bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
		return
	}

	prefix := "/" + f.bucket + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchBucket</Code><Message>no bucket</Message></Error>`)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, prefix)

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		meta := map[string]string{}
		for name, values := range r.Header {
			lower := strings.ToLower(name)
			if strings.HasPrefix(lower, "x-amz-meta-") {
				meta[strings.TrimPrefix(lower, "x-amz-meta-")] = values[0]
			}
		}
		f.objects[key] = fakeObject{
			data:        data,
			contentType: r.Header.Get("Content-Type"),
			meta:        meta,
			modified:    time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		}
		w.Header().Set("ETag", `"`+etag(data)+`"`)
		w.WriteHeader(http.StatusOK)

	case http.MethodHead, http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			}
			return
		}
		w.Header().Set("ETag", `"`+etag(obj.data)+`"`)
		w.Header().Set("Content-Type", obj.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
		w.Header().Set("Last-Modified", obj.modified.Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(obj.data)
		}

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func newTestBackend(t *testing.T) (*Backend, *fakeS3) {
	t.Helper()

	fake := &fakeS3{bucket: "uploads-bucket", objects: map[string]fakeObject{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	backend, err := New(context.Background(), Config{
		Region:          "us-east-1",
		Bucket:          "uploads-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        server.URL,
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	return backend, fake
}

func TestS3Backend_Config(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := New(context.Background(), Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "s3: bucket is required")
	})

	t.Run("DefaultRegion", func(t *testing.T) {
		backend, err := New(context.Background(), Config{
			Bucket:          "test-bucket",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
		})
		require.NoError(t, err)
		assert.Equal(t, "us-east-1", backend.config.Region)
	})
}

func TestS3Backend_PutGet(t *testing.T) {
	backend, fake := newTestBackend(t)
	ctx := context.Background()
	data := []byte("hello from s3")
	uploadedAt := time.Date(2024, 5, 6, 7, 8, 0, 0, time.UTC)

	stored, err := backend.Put(ctx, "uploads/1700000000000-hello.txt", bytes.NewReader(data), simplegate.ObjectMetadata{
		ContentType:  "text/plain",
		OriginalName: "hello.txt",
		UploadedBy:   "u1",
		UploadedAt:   uploadedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, "uploads/1700000000000-hello.txt", stored.Key)
	assert.Equal(t, int64(len(data)), stored.Size)
	assert.Equal(t, etag(data), stored.ETag)
	assert.True(t, stored.Uploaded.Equal(time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)))

	obj := fake.objects["uploads/1700000000000-hello.txt"]
	assert.Equal(t, data, obj.data)
	assert.Equal(t, "hello.txt", obj.meta["original-name"])
	assert.Equal(t, "u1", obj.meta["uploaded-by"])
	assert.Equal(t, "2024-05-06T07:08:00Z", obj.meta["uploaded-at"])

	got, err := backend.Get(ctx, "uploads/1700000000000-hello.txt")
	require.NoError(t, err)
	defer got.Body.Close()

	body, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, data, body)
	assert.Equal(t, "text/plain", got.ContentType)
	assert.Equal(t, int64(len(data)), got.Size)
	assert.Equal(t, etag(data), got.ETag)
}

func TestS3Backend_NotFound(t *testing.T) {
	backend, _ := newTestBackend(t)

	_, err := backend.Get(context.Background(), "uploads/missing.txt")
	assert.ErrorIs(t, err, simplegate.ErrObjectNotFound)
}

func TestS3Backend_BackendFailure(t *testing.T) {
	backend, fake := newTestBackend(t)
	fake.mu.Lock()
	fake.fail = true
	fake.mu.Unlock()

	_, err := backend.Get(context.Background(), "uploads/any.txt")
	require.Error(t, err)
	assert.NotErrorIs(t, err, simplegate.ErrObjectNotFound)
	assert.True(t, hasErrorCode(err, "AccessDenied"))

	_, err = backend.Put(context.Background(), "uploads/any.txt", strings.NewReader("x"), simplegate.ObjectMetadata{})
	assert.Error(t, err)
}

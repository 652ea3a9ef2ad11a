package simplegate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tendant/simple-gate/pkg/simplegate/clientid"
	"github.com/tendant/simple-gate/pkg/simplegate/objectkey"
	"github.com/tendant/simple-gate/pkg/simplegate/ratelimit"
	"github.com/tendant/simple-gate/pkg/simplegate/signedurl"
)

const (
	// DefaultMaxUploadSize is 10 MiB
	DefaultMaxUploadSize int64 = 10 << 20

	// DefaultURLTTL is the lifetime of issued download URLs
	DefaultURLTTL = time.Hour
)

// Gateway orchestrates uploads and signed downloads.
type Gateway struct {
	store       ObjectStore
	storageName string

	limiter      *ratelimit.Limiter
	signer       *signedurl.Signer
	identifier   *clientid.Identifier
	keyGenerator objectkey.Generator
	logger       *slog.Logger
	now          func() time.Time

	maxUploadSize  int64
	urlTTL         time.Duration
	downloadPath   string
	uploadPolicy   ratelimit.Config
	downloadPolicy ratelimit.Config
}

// New creates a Gateway. An object store is required; every other
// collaborator has a default, including a limiter without a store, which
// admits every request.
func New(opts ...Option) (*Gateway, error) {
	g := &Gateway{
		storageName:    "default",
		limiter:        ratelimit.New(nil),
		signer:         signedurl.New(),
		identifier:     clientid.New(),
		keyGenerator:   objectkey.NewRecommendedGenerator(),
		logger:         slog.Default(),
		now:            time.Now,
		maxUploadSize:  DefaultMaxUploadSize,
		urlTTL:         DefaultURLTTL,
		downloadPath:   signedurl.DefaultBasePath,
		uploadPolicy:   ratelimit.UploadPolicy,
		downloadPolicy: ratelimit.DownloadPolicy,
	}

	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}

	if g.store == nil {
		return nil, errors.New("object store is required")
	}

	return g, nil
}

// MaxUploadSize returns the largest accepted upload in bytes
func (g *Gateway) MaxUploadSize() int64 {
	return g.maxUploadSize
}

// Signer returns the signed URL issuer
func (g *Gateway) Signer() *signedurl.Signer {
	return g.signer
}

// Upload stores a file for userID and returns a signed download URL for it.
// The file is opened only after the caller passed the upload rate limit.
func (g *Gateway) Upload(ctx context.Context, userID string, open FileOpener) (*UploadResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: Please login to upload files", ErrAuthentication)
	}

	rl := g.limiter.Check(ctx, userID, g.uploadPolicy)
	if !rl.Allowed {
		return nil, &RateLimitError{
			Policy:  g.uploadPolicy.KeyPrefix,
			Limit:   rl.Limit,
			Current: rl.Current,
			ResetAt: rl.ResetAt,
		}
	}

	file, err := open()
	if err != nil {
		return nil, err
	}
	if file == nil || file.Body == nil {
		return nil, ErrMissingFile
	}
	defer file.Body.Close()

	data, err := g.readLimited(file)
	if err != nil {
		return nil, err
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}

	uploadedAt := g.now()
	key := g.keyGenerator.GenerateKey(file.Name, uploadedAt)

	stored, err := g.store.Put(ctx, key, bytes.NewReader(data), ObjectMetadata{
		ContentType:  contentType,
		OriginalName: file.Name,
		UploadedBy:   userID,
		UploadedAt:   uploadedAt,
	})
	if err != nil {
		g.logger.Error("Failed to store upload", "key", key, "backend", g.storageName, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, &StorageError{Backend: g.storageName, Key: key, Op: "put", Err: err})
	}

	url, _ := g.signer.SignURL(g.downloadPath, stored.Key, g.urlTTL)

	g.logger.Info("File uploaded", "key", stored.Key, "size", stored.Size, "user_id", userID)

	return &UploadResult{
		Key:         stored.Key,
		Size:        stored.Size,
		ETag:        stored.ETag,
		Uploaded:    stored.Uploaded,
		URL:         url,
		ExpiresIn:   int64(g.urlTTL / time.Second),
		ContentType: contentType,
		Name:        file.Name,
		RateLimit:   rateLimitInfo(rl),
	}, nil
}

// FileTooLargeError is the rejection for uploads over max bytes.
func FileTooLargeError(max int64) *ValidationError {
	return &ValidationError{
		Field:  "file",
		Reason: fmt.Sprintf("File size exceeds maximum allowed size of %s", formatSize(max)),
	}
}

func (g *Gateway) readLimited(file *UploadFile) ([]byte, error) {
	tooLarge := FileTooLargeError(g.maxUploadSize)

	if file.Size > g.maxUploadSize {
		return nil, tooLarge
	}

	data, err := io.ReadAll(io.LimitReader(file.Body, g.maxUploadSize+1))
	if err != nil {
		return nil, &ValidationError{Field: "file", Reason: "failed to read upload", Err: err}
	}
	if int64(len(data)) > g.maxUploadSize {
		return nil, tooLarge
	}
	return data, nil
}

// Download verifies a signed download request, applies the per-client
// download limit and opens the object.
func (g *Gateway) Download(ctx context.Context, req DownloadRequest) (*DownloadResult, error) {
	capability, err := signedurl.ParseQuery(req.Query)
	if err != nil {
		return nil, &ValidationError{Field: "query", Reason: downloadReason(err), Err: err}
	}

	if err := g.signer.Verify(capability.Key, capability.Signature, capability.ExpiresAt); err != nil {
		return nil, &ValidationError{Field: "signature", Reason: downloadReason(err), Err: err}
	}

	identity := g.identifier.Identify(req.Header)
	limit, strict := clientid.AdjustedLimit(identity, g.downloadPolicy.MaxRequests)
	policy := g.downloadPolicy.WithLimit(limit)

	rl := g.limiter.Check(ctx, identity.String(), policy)
	if !rl.Allowed {
		return nil, &RateLimitError{
			Policy:  policy.KeyPrefix,
			Limit:   rl.Limit,
			Current: rl.Current,
			ResetAt: rl.ResetAt,
			Strict:  strict,
		}
	}

	obj, err := g.store.Get(ctx, capability.Key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			g.logger.Debug("Download for absent object", "key", capability.Key)
			return nil, fmt.Errorf("download %s: %w", capability.Key, ErrObjectNotFound)
		}
		g.logger.Error("Failed to open object", "key", capability.Key, "backend", g.storageName, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, &StorageError{Backend: g.storageName, Key: capability.Key, Op: "get", Err: err})
	}

	if obj.ContentType == "" {
		obj.ContentType = DefaultContentType
	}

	return &DownloadResult{
		Object:    obj,
		RateLimit: rl,
		Identity:  identity,
		Strict:    strict,
	}, nil
}

// downloadReason maps capability errors to client-safe messages.
func downloadReason(err error) string {
	switch {
	case errors.Is(err, signedurl.ErrMissingKey):
		return "File key is required"
	case errors.Is(err, signedurl.ErrMissingSignature):
		return "Invalid download URL: missing signature or expiration"
	case errors.Is(err, signedurl.ErrInvalidExpiration):
		return "Invalid expiration timestamp"
	case errors.Is(err, signedurl.ErrExpired):
		return "URL has expired"
	case errors.Is(err, signedurl.ErrInvalidSignature):
		return "Invalid signature"
	default:
		return "Invalid or expired download URL"
	}
}

func formatSize(n int64) string {
	const mib = 1 << 20
	if n%mib == 0 {
		return fmt.Sprintf("%dMB", n/mib)
	}
	return fmt.Sprintf("%d bytes", n)
}

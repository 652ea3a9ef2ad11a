package simplegate

import (
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-gate/pkg/simplegate/clientid"
	"github.com/tendant/simple-gate/pkg/simplegate/ratelimit"
)

// DefaultContentType is used when an upload does not declare one.
const DefaultContentType = "application/octet-stream"

// ObjectMetadata is stored alongside an object's bytes.
type ObjectMetadata struct {
	ContentType  string
	OriginalName string
	UploadedBy   string
	UploadedAt   time.Time
}

// StoredObject describes an object after a successful Put.
type StoredObject struct {
	Key      string
	Size     int64
	ETag     string
	Uploaded time.Time
}

// Object is an open stored object.
type Object struct {
	Key         string
	ContentType string
	Size        int64
	ETag        string
	Body        io.ReadCloser
}

// UploadFile is one file taken from an upload request. Size is the declared
// size, or -1 when unknown.
type UploadFile struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// FileOpener produces the upload body. The Gateway calls it only after the
// caller passed the rate limit. It returns ErrMissingFile when the request
// carries no file.
type FileOpener func() (*UploadFile, error)

// ErrMissingFile is returned by a FileOpener when no file was sent.
var ErrMissingFile = &ValidationError{Field: "file", Reason: "file is required"}

// RateLimitInfo is the caller's residual budget after an admitted request.
type RateLimitInfo struct {
	Remaining int   `json:"remaining"`
	Limit     int   `json:"limit"`
	ResetAt   int64 `json:"resetAt"`
}

func rateLimitInfo(res ratelimit.Result) RateLimitInfo {
	return RateLimitInfo{Remaining: res.Remaining, Limit: res.Limit, ResetAt: res.ResetAt}
}

// UploadResult is returned to the uploader.
type UploadResult struct {
	Key         string        `json:"key"`
	Size        int64         `json:"size"`
	ETag        string        `json:"etag"`
	Uploaded    time.Time     `json:"uploaded"`
	URL         string        `json:"url"`
	ExpiresIn   int64         `json:"expiresIn"`
	ContentType string        `json:"contentType"`
	Name        string        `json:"name"`
	RateLimit   RateLimitInfo `json:"rateLimit"`
}

// DownloadRequest carries the query parameters and headers of a download.
type DownloadRequest struct {
	Query  url.Values
	Header http.Header
}

// DownloadResult is an admitted download. The caller closes Object.Body.
type DownloadResult struct {
	Object    *Object
	RateLimit ratelimit.Result
	Identity  clientid.Identity
	Strict    bool
}

// User is a registered account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RegisterRequest is the input to Accounts.Register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

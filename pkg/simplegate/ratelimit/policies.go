package ratelimit

import "time"

// Key prefixes of the built-in policies.
const (
	UploadKeyPrefix   = "rate-limit:upload"
	DownloadKeyPrefix = "rate-limit:download"
)

// UploadPolicy allows 5 uploads per minute per authenticated user.
var UploadPolicy = Config{
	MaxRequests: 5,
	Window:      time.Minute,
	KeyPrefix:   UploadKeyPrefix,
}

// DownloadPolicy allows 30 downloads per minute per client identity before
// any identity-based adjustment.
var DownloadPolicy = Config{
	MaxRequests: 30,
	Window:      time.Minute,
	KeyPrefix:   DownloadKeyPrefix,
}

// WithLimit returns a copy of c with MaxRequests replaced.
func (c Config) WithLimit(n int) Config {
	c.MaxRequests = n
	return c
}

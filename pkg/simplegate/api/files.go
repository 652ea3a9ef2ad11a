package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/tendant/simple-gate/pkg/simplegate"
)

const (
	// multipartOverhead is the allowance for form boundaries and part headers
	// on top of the maximum file size.
	multipartOverhead = 1 << 20

	// maxFormMemory is how much of a multipart form is held in memory
	// before spilling to temporary files.
	maxFormMemory = 32 << 20

	downloadCacheControl = "public, max-age=31536000"
)

// Upload handles POST /api/upload with a multipart "file" field
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	maxSize := h.gateway.MaxUploadSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	res, err := h.gateway.Upload(r.Context(), UserIDFromContext(r.Context()), multipartFile(r, maxSize))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.metrics.recordUpload(res.Size)
	setRateLimitHeaders(w.Header(), res.RateLimit.Limit, res.RateLimit.Remaining, res.RateLimit.ResetAt)
	writeData(w, r, http.StatusCreated, res)
}

// multipartFile opens the "file" part of r lazily, so the body is only read
// once the gateway has admitted the request.
func multipartFile(r *http.Request, maxSize int64) simplegate.FileOpener {
	return func() (*simplegate.UploadFile, error) {
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			var maxErr *http.MaxBytesError
			switch {
			case errors.As(err, &maxErr):
				return nil, simplegate.FileTooLargeError(maxSize)
			case errors.Is(err, http.ErrNotMultipart):
				return nil, &simplegate.ValidationError{Field: "file", Reason: "Request must be multipart/form-data", Err: err}
			default:
				return nil, &simplegate.ValidationError{Field: "file", Reason: "Invalid upload form", Err: err}
			}
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, simplegate.ErrMissingFile
		}

		return &simplegate.UploadFile{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        file,
		}, nil
	}
}

// Download handles GET /api/upload?key=&signature=&expires= and streams the
// object
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	res, err := h.gateway.Download(r.Context(), simplegate.DownloadRequest{
		Query:  r.URL.Query(),
		Header: r.Header,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer res.Object.Body.Close()

	h.metrics.recordDownload()

	header := w.Header()
	setRateLimitHeaders(header, res.RateLimit.Limit, res.RateLimit.Remaining, res.RateLimit.ResetAt)
	header.Set("Content-Type", res.Object.ContentType)
	header.Set("Cache-Control", downloadCacheControl)
	if res.Object.Size >= 0 {
		header.Set("Content-Length", strconv.FormatInt(res.Object.Size, 10))
	}
	if res.Object.ETag != "" {
		header.Set("ETag", strconv.Quote(res.Object.ETag))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, res.Object.Body); err != nil {
		h.logger.Warn("Download interrupted", "key", res.Object.Key, "request_id", RequestIDFromContext(r.Context()), "err", err)
	}
}

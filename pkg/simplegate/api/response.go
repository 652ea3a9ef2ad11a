package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/render"

	"github.com/tendant/simple-gate/pkg/simplegate"
	"github.com/tendant/simple-gate/pkg/simplegate/ratelimit"
)

// Response is the JSON envelope every endpoint returns
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody describes a failed request
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error codes
const (
	CodeUnauthorized          = "unauthorized"
	CodeRateLimitExceeded     = "rate_limit_exceeded"
	CodeValidationError       = "validation_error"
	CodeNotFound              = "not_found"
	CodeStorageUnavailable    = "storage_unavailable"
	CodePasswordResetRequired = "password_reset_required"
	CodeInternalError         = "internal_error"
)

const resetTimeLayout = "15:04:05 MST"

func writeData(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	render.Status(r, status)
	render.JSON(w, r, Response{Success: true, Data: data})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, status int, body ErrorBody) {
	render.Status(r, status)
	render.JSON(w, r, Response{Success: false, Error: &body})
}

// errorResponse maps an error from the core to a status code and a
// client-safe body. Storage and internal failures never expose detail.
func errorResponse(err error) (int, ErrorBody) {
	var rlErr *simplegate.RateLimitError
	var vErr *simplegate.ValidationError

	switch {
	case errors.As(err, &rlErr):
		return http.StatusTooManyRequests, rateLimitBody(rlErr)
	case errors.Is(err, simplegate.ErrLegacyCredentialFormat):
		return http.StatusConflict, ErrorBody{
			Code:    CodePasswordResetRequired,
			Message: "Your account uses an outdated password format. Please reset your password to continue.",
		}
	case errors.Is(err, simplegate.ErrAuthentication):
		return http.StatusUnauthorized, ErrorBody{Code: CodeUnauthorized, Message: clientMessage(err, simplegate.ErrAuthentication)}
	case errors.As(err, &vErr):
		body := ErrorBody{Code: CodeValidationError, Message: vErr.Reason}
		if vErr.Field != "" {
			body.Details = map[string]interface{}{"field": vErr.Field}
		}
		return http.StatusBadRequest, body
	case errors.Is(err, simplegate.ErrNotFound):
		return http.StatusNotFound, ErrorBody{Code: CodeNotFound, Message: "File not found"}
	case errors.Is(err, simplegate.ErrStorageUnavailable):
		return http.StatusBadGateway, ErrorBody{Code: CodeStorageUnavailable, Message: "Storage is temporarily unavailable"}
	default:
		return http.StatusInternalServerError, ErrorBody{Code: CodeInternalError, Message: "An internal server error occurred"}
	}
}

// clientMessage returns the text after "<sentinel>: " in err.
func clientMessage(err, sentinel error) string {
	if msg, ok := strings.CutPrefix(err.Error(), sentinel.Error()+": "); ok && msg != "" {
		return msg
	}
	return "Authentication required"
}

func rateLimitBody(e *simplegate.RateLimitError) ErrorBody {
	reset := e.ResetTime().UTC().Format(resetTimeLayout)

	var msg string
	switch e.Policy {
	case ratelimit.UploadKeyPrefix:
		msg = fmt.Sprintf("Upload rate limit exceeded. You can upload %d files per minute. Please try again after %s.", e.Limit, reset)
	default:
		strict := ""
		if e.Strict {
			strict = " (stricter limit applied due to incomplete client information)"
		}
		msg = fmt.Sprintf("Download rate limit exceeded. You can download %d files per minute%s. Please try again after %s.", e.Limit, strict, reset)
	}

	details := map[string]interface{}{
		"limit":   e.Limit,
		"current": e.Current,
		"resetAt": e.ResetAt,
	}
	if e.Strict {
		details["isStrict"] = true
	}

	return ErrorBody{Code: CodeRateLimitExceeded, Message: msg, Details: details}
}

func setRateLimitHeaders(h http.Header, limit, remaining int, resetAt int64) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))
}

// retryAfterSeconds is never below one second.
func retryAfterSeconds(resetAt int64, now time.Time) int64 {
	return max(1, resetAt-now.Unix())
}

package model

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrDownload            = errors.New("image download failed")
	ErrDecode              = errors.New("image decode failed")
	ErrInference           = errors.New("inference failed")
	ErrMissingToken        = errors.New("token not provided")
	ErrUpstreamAuth        = errors.New("upstream rejected credential")
	ErrUpstreamNotFound    = errors.New("upstream model not found")
	ErrUpstreamRateLimit   = errors.New("upstream rate limit exceeded")
	ErrUpstreamUnavailable = errors.New("upstream model unavailable")
	ErrUpstreamOther       = errors.New("upstream error")
)

// maxUpstreamBody bounds the upstream error text kept in UpstreamError.
const maxUpstreamBody = 200

// UpstreamError describes a non-200 answer from the remote inference API.
type UpstreamError struct {
	Kind          error
	StatusCode    int
	ModelID       string
	Body          string
	EstimatedTime float64
}

// NewUpstreamError classifies status into one of the upstream sentinels.
func NewUpstreamError(status int, modelID, body string) *UpstreamError {
	var kind error
	switch status {
	case 401, 403:
		kind = ErrUpstreamAuth
	case 404:
		kind = ErrUpstreamNotFound
	case 429:
		kind = ErrUpstreamRateLimit
	case 503:
		kind = ErrUpstreamUnavailable
	default:
		kind = ErrUpstreamOther
	}
	return &UpstreamError{
		Kind:       kind,
		StatusCode: status,
		ModelID:    modelID,
		Body:       TruncateText(body, maxUpstreamBody),
	}
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%v: status %d", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%v: status %d: %s", e.Kind, e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Kind }

// TruncateText keeps at most n runes of s.
func TruncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Error codes reported to clients and used as metric outcomes.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeDownloadFailed  = "DOWNLOAD_FAILED"
	CodeDecodeFailed    = "DECODE_FAILED"
	CodeInferenceFailed = "INFERENCE_FAILED"
	CodeMissingToken    = "MISSING_TOKEN"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeModelNotFound   = "MODEL_NOT_FOUND"
	CodeRateLimited     = "RATE_LIMITED"
	CodeModelLoading    = "MODEL_LOADING"
	CodeUpstreamError   = "UPSTREAM_ERROR"
	CodeInternal        = "INTERNAL_ERROR"
)

// ErrorCode returns the code for err, CodeInternal when unrecognized.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrDownload):
		return CodeDownloadFailed
	case errors.Is(err, ErrDecode):
		return CodeDecodeFailed
	case errors.Is(err, ErrInference):
		return CodeInferenceFailed
	case errors.Is(err, ErrMissingToken):
		return CodeMissingToken
	case errors.Is(err, ErrUpstreamAuth):
		return CodeUnauthorized
	case errors.Is(err, ErrUpstreamNotFound):
		return CodeModelNotFound
	case errors.Is(err, ErrUpstreamRateLimit):
		return CodeRateLimited
	case errors.Is(err, ErrUpstreamUnavailable):
		return CodeModelLoading
	case errors.Is(err, ErrUpstreamOther):
		return CodeUpstreamError
	default:
		return CodeInternal
	}
}

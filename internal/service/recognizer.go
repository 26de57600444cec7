package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/tagging-api/internal/metrics"
	"github.com/Brownie44l1/tagging-api/internal/model"
)

// Fetcher downloads the image referenced by a request.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*model.RawImage, error)
}

// Recognizer runs Validate -> Fetch -> Classify -> Normalize for one request.
// It holds no per-request state and is safe for concurrent use.
type Recognizer struct {
	fetcher Fetcher
	backend model.Backend
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewRecognizer(fetcher Fetcher, backend model.Backend, m *metrics.Metrics, log *zap.Logger) *Recognizer {
	return &Recognizer{
		fetcher: fetcher,
		backend: backend,
		metrics: m,
		log:     log,
	}
}

func (r *Recognizer) Recognize(ctx context.Context, req model.ImageRequest) (*model.RecognitionResult, error) {
	result, err := r.recognize(ctx, req)
	if err != nil {
		r.metrics.IncRequest(r.backend.Name(), model.ErrorCode(err))
		return nil, err
	}
	r.metrics.IncRequest(r.backend.Name(), "success")
	return result, nil
}

func (r *Recognizer) recognize(ctx context.Context, req model.ImageRequest) (*model.RecognitionResult, error) {
	if err := ValidateImageURL(req.ImageURL); err != nil {
		return nil, err
	}

	token := req.Token
	if cb, ok := r.backend.(model.CredentialedBackend); ok {
		resolved, err := cb.ResolveToken(token)
		if err != nil {
			return nil, err
		}
		token = resolved
	}

	start := time.Now()
	img, err := r.fetcher.Fetch(ctx, req.ImageURL)
	r.metrics.ObserveStage(r.backend.Name(), "fetch", time.Since(start))
	if err != nil {
		r.log.Warn("Image download failed", zap.String("image_url", req.ImageURL), zap.Error(err))
		return nil, err
	}
	r.log.Debug("Image downloaded",
		zap.String("image_url", req.ImageURL),
		zap.String("content_type", img.ContentType),
		zap.Int("bytes", len(img.Data)),
	)

	start = time.Now()
	results, err := r.backend.Classify(ctx, img, token)
	r.metrics.ObserveStage(r.backend.Name(), "classify", time.Since(start))
	if err != nil {
		r.log.Warn("Classification failed", zap.String("backend", r.backend.Name()), zap.Error(err))
		return nil, err
	}

	return model.NewRecognitionResult(results), nil
}

// ValidateImageURL requires an absolute http(s) URL with a host. A malformed
// URL fails the download stage without any network call.
func ValidateImageURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: image_url is required", model.ErrInvalidRequest)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid url: %v", model.ErrDownload, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: invalid url %q: scheme must be http or https", model.ErrDownload, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: invalid url %q: missing host", model.ErrDownload, raw)
	}
	return nil
}

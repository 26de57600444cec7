package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/Brownie44l1/tagging-api/internal/config"
	"github.com/Brownie44l1/tagging-api/internal/model"
)

// DefaultContentType is reported when the server sends no usable Content-Type.
const DefaultContentType = "image/jpeg"

// Fetcher downloads images over HTTP(S).
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
	userAgent  string
}

func NewFetcher(cfg config.FetchConfig) *Fetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in, non-production only
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Fetcher{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		maxBytes:  cfg.MaxBytes,
		userAgent: cfg.UserAgent,
	}
}

// Fetch issues a GET for url. Every failure wraps model.ErrDownload.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*model.RawImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDownload, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d %s for url: %s", model.ErrDownload,
			resp.StatusCode, http.StatusText(resp.StatusCode), url)
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDownload, err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", model.ErrDownload, f.maxBytes)
	}

	return &model.RawImage{
		Data:        data,
		ContentType: ContentType(resp.Header.Get("Content-Type")),
	}, nil
}

// ContentType strips parameters from a Content-Type header value and falls
// back to DefaultContentType when it is empty or unparsable.
func ContentType(header string) string {
	if header == "" {
		return DefaultContentType
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil || mediaType == "" {
		return DefaultContentType
	}
	return mediaType
}

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Brownie44l1/tagging-api/internal/config"
	"github.com/Brownie44l1/tagging-api/internal/model"
)

// maxResponseBody bounds how much of an upstream response is read.
const maxResponseBody = 4 << 20

// Client calls a hosted image-classification endpoint such as the Hugging
// Face Inference API.
type Client struct {
	baseURL      string
	modelID      string
	defaultToken string
	httpClient   *http.Client
}

func NewClient(cfg config.RemoteConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		modelID:      cfg.ModelID,
		defaultToken: cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Name() string { return "remote" }

func (c *Client) ModelID() string { return c.modelID }

// ResolveToken prefers the caller's token over the configured default.
func (c *Client) ResolveToken(token string) (string, error) {
	// Blank means absent; anything else is forwarded exactly as given.
	if strings.TrimSpace(token) != "" {
		return token, nil
	}
	if c.defaultToken != "" {
		return c.defaultToken, nil
	}
	return "", model.ErrMissingToken
}

// Classify sends the image bytes in a single attempt.
func (c *Client) Classify(ctx context.Context, img *model.RawImage, token string) ([]model.LabelScore, error) {
	token, err := c.ResolveToken(token)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+c.modelID, bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", img.ContentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %v", model.ErrInference, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", model.ErrInference, err)
	}

	if resp.StatusCode != http.StatusOK {
		upErr := model.NewUpstreamError(resp.StatusCode, c.modelID, string(body))
		if resp.StatusCode == http.StatusServiceUnavailable {
			upErr.EstimatedTime = estimatedTime(body)
		}
		return nil, upErr
	}

	results, err := ParseResults(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInference, err)
	}
	return results, nil
}

// ParseResults accepts a single object or a list. String items become labels;
// other non-objects, and objects without a string label, are labelled with
// their JSON text.
func ParseResults(body []byte) ([]model.LabelScore, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty response body")
	}

	var items []json.RawMessage
	if body[0] == '[' {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	} else {
		if !json.Valid(body) {
			return nil, errors.New("failed to decode response: invalid JSON")
		}
		items = []json.RawMessage{body}
	}

	results := make([]model.LabelScore, 0, len(items))
	for _, raw := range items {
		results = append(results, parseItem(raw))
	}
	return results, nil
}

func parseItem(raw json.RawMessage) model.LabelScore {
	var s *string
	if err := json.Unmarshal(raw, &s); err == nil && s != nil {
		return model.LabelScore{Label: *s}
	}
	text := compact(raw)

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return model.LabelScore{Label: text}
	}

	item := model.LabelScore{Label: text}
	var label *string
	if err := json.Unmarshal(obj["label"], &label); err == nil && label != nil {
		item.Label = *label
	}
	var score float64
	if err := json.Unmarshal(obj["score"], &score); err == nil {
		item.Score = score
	}
	return item
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// estimatedTime extracts the model warm-up estimate from a 503 body.
func estimatedTime(body []byte) float64 {
	var payload struct {
		EstimatedTime float64 `json:"estimated_time"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0
	}
	return payload.EstimatedTime
}

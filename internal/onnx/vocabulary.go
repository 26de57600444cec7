package onnx

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Vocabulary maps class ids to labels. It is immutable once loaded.
type Vocabulary struct {
	labels []string
}

// ParseVocabulary reads one label per line and requires exactly want lines.
func ParseVocabulary(r io.Reader, want int) (*Vocabulary, error) {
	labels := make([]string, 0, want)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	if len(labels) != want {
		return nil, fmt.Errorf("expected %d labels, got %d", want, len(labels))
	}
	return &Vocabulary{labels: labels}, nil
}

func (v *Vocabulary) Len() int { return len(v.labels) }

// Label returns the label for class id, or a placeholder for out-of-range ids.
func (v *Vocabulary) Label(id int) string {
	if id < 0 || id >= len(v.labels) {
		return fmt.Sprintf("class_%d", id)
	}
	return v.labels[id]
}

// LoadVocabulary reads the label file at path, downloading it from url first
// if it does not exist. A downloaded file is only persisted once it parses.
func LoadVocabulary(ctx context.Context, path, url string, want int, log *zap.Logger) (*Vocabulary, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if url == "" {
			return nil, fmt.Errorf("labels file %s not found and no download url configured", path)
		}
		log.Info("Downloading label vocabulary", zap.String("url", url), zap.String("path", path))
		return downloadVocabulary(ctx, path, url, want, log)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels: %w", err)
	}
	defer f.Close()

	return ParseVocabulary(f, want)
}

func downloadVocabulary(ctx context.Context, path, url string, want int, log *zap.Logger) (*Vocabulary, error) {
	client := &http.Client{Timeout: 30 * time.Second}

	var (
		data  []byte
		vocab *Vocabulary
	)
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("labels download returned status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("labels download returned status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		// Captive portals and rate limiters answer 200 with HTML.
		parsed, err := ParseVocabulary(bytes.NewReader(body), want)
		if err != nil {
			return fmt.Errorf("invalid labels payload: %w", err)
		}
		data, vocab = body, parsed
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("Label download failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("failed to download labels: %w", err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return nil, err
	}
	return vocab, nil
}

// writeFileAtomic writes data next to path and renames it into place, so a
// reader never observes a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create labels dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".labels-*")
	if err != nil {
		return fmt.Errorf("failed to write labels: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write labels: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write labels: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to write labels: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write labels: %w", err)
	}
	return nil
}

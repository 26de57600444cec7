package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/tagging-api/internal/config"
	"github.com/Brownie44l1/tagging-api/internal/model"
)

const testModel = "google/vit-base-patch16-224"

func newTestClient(url, token string) *Client {
	return NewClient(config.RemoteConfig{
		BaseURL: url + "/models/",
		ModelID: testModel,
		Token:   token,
		Timeout: 5 * time.Second,
	})
}

func testImage() *model.RawImage {
	return &model.RawImage{Data: []byte("jpeg-bytes"), ContentType: "image/jpeg"}
}

func TestClient_Classify(t *testing.T) {
	t.Run("forwards image with bearer token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/models/"+testModel, r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "Bearer hf_caller", r.Header.Get("Authorization"))
			assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))

			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.Equal(t, "jpeg-bytes", string(body))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"label":"golden retriever","score":0.91},{"label":"Labrador retriever","score":0.05}]`))
		}))
		defer server.Close()

		results, err := newTestClient(server.URL, "hf_default").Classify(context.Background(), testImage(), "hf_caller")

		require.NoError(t, err)
		assert.Equal(t, []model.LabelScore{
			{Label: "golden retriever", Score: 0.91},
			{Label: "Labrador retriever", Score: 0.05},
		}, results)
	})

	t.Run("falls back to configured token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer hf_default", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`[]`))
		}))
		defer server.Close()

		results, err := newTestClient(server.URL, "hf_default").Classify(context.Background(), testImage(), "")

		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("caller token is forwarded verbatim", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer  hf_padded", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`[]`))
		}))
		defer server.Close()

		_, err := newTestClient(server.URL, "hf_default").Classify(context.Background(), testImage(), " hf_padded")

		require.NoError(t, err)
	})

	t.Run("missing token makes no request", func(t *testing.T) {
		called := false
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			called = true
		}))
		defer server.Close()

		_, err := newTestClient(server.URL, "").Classify(context.Background(), testImage(), "  ")

		assert.True(t, errors.Is(err, model.ErrMissingToken))
		assert.False(t, called)
	})

	t.Run("maps upstream status codes", func(t *testing.T) {
		tests := []struct {
			status int
			body   string
			kind   error
		}{
			{http.StatusUnauthorized, `{"error":"Invalid credentials"}`, model.ErrUpstreamAuth},
			{http.StatusForbidden, `{"error":"forbidden"}`, model.ErrUpstreamAuth},
			{http.StatusNotFound, `{"error":"Model not found"}`, model.ErrUpstreamNotFound},
			{http.StatusTooManyRequests, `{"error":"Rate limit reached"}`, model.ErrUpstreamRateLimit},
			{http.StatusServiceUnavailable, `{"error":"Model is currently loading","estimated_time":20.5}`, model.ErrUpstreamUnavailable},
			{http.StatusBadGateway, strings.Repeat("e", 300), model.ErrUpstreamOther},
		}

		for _, tt := range tests {
			t.Run(http.StatusText(tt.status), func(t *testing.T) {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(tt.body))
				}))
				defer server.Close()

				_, err := newTestClient(server.URL, "hf_x").Classify(context.Background(), testImage(), "")

				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.kind))

				var upErr *model.UpstreamError
				require.True(t, errors.As(err, &upErr))
				assert.Equal(t, tt.status, upErr.StatusCode)
				assert.Equal(t, testModel, upErr.ModelID)
				assert.LessOrEqual(t, len(upErr.Body), 200)
				if tt.status == http.StatusServiceUnavailable {
					assert.Equal(t, 20.5, upErr.EstimatedTime)
				}
			})
		}
	})

	t.Run("connection error is an inference error", func(t *testing.T) {
		client := NewClient(config.RemoteConfig{BaseURL: "http://localhost:99999", ModelID: testModel, Timeout: time.Second})

		_, err := client.Classify(context.Background(), testImage(), "hf_x")

		assert.True(t, errors.Is(err, model.ErrInference))
	})

	t.Run("malformed body is an inference error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`[{"label":`))
		}))
		defer server.Close()

		_, err := newTestClient(server.URL, "hf_x").Classify(context.Background(), testImage(), "")

		assert.True(t, errors.Is(err, model.ErrInference))
	})
}

func TestClient_ResolveToken(t *testing.T) {
	client := newTestClient("http://unused", "hf_default")

	tests := []struct {
		name     string
		token    string
		expected string
	}{
		{"caller token wins", "hf_caller", "hf_caller"},
		{"surrounding whitespace is preserved", " tok ", " tok "},
		{"blank falls back to default", "   ", "hf_default"},
		{"empty falls back to default", "", "hf_default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := client.ResolveToken(tt.token)

			require.NoError(t, err)
			assert.Equal(t, tt.expected, token)
		})
	}
}

func TestParseResults(t *testing.T) {
	t.Run("single object", func(t *testing.T) {
		results, err := ParseResults([]byte(`{"label":"tabby","score":0.7}`))

		require.NoError(t, err)
		assert.Equal(t, []model.LabelScore{{Label: "tabby", Score: 0.7}}, results)
	})

	t.Run("missing score defaults to zero", func(t *testing.T) {
		results, err := ParseResults([]byte(`[{"label":"tabby"}]`))

		require.NoError(t, err)
		assert.Equal(t, 0.0, results[0].Score)
	})

	t.Run("non-object items are stringified", func(t *testing.T) {
		results, err := ParseResults([]byte(`["cat", 3, {"score": 0.2}]`))

		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "cat", results[0].Label)
		assert.Equal(t, "3", results[1].Label)
		assert.Equal(t, `{"score":0.2}`, results[2].Label)
		assert.Equal(t, 0.2, results[2].Score)
	})

	t.Run("null items are stringified as null", func(t *testing.T) {
		results, err := ParseResults([]byte(`[null, {"label":"cat","score":0.5}]`))

		require.NoError(t, err)
		assert.Equal(t, []string{"null", "cat"}, model.Labels(results))
		assert.Equal(t, 0.0, results[0].Score)
	})

	t.Run("preserves upstream order", func(t *testing.T) {
		results, err := ParseResults([]byte(`[{"label":"b","score":0.1},{"label":"a","score":0.9}]`))

		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, model.Labels(results))
	})

	t.Run("rejects empty and invalid bodies", func(t *testing.T) {
		_, err := ParseResults(nil)
		assert.Error(t, err)

		_, err = ParseResults([]byte(`nope`))
		assert.Error(t, err)
	})
}

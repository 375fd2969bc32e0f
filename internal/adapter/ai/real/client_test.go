package real

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlegrain/EVAL-COSEP/internal/config"
	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

type recordedRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

func testConfig(url string) config.Config {
	return config.Config{
		AppEnv:            "test",
		OracleAPIKey:      "k",
		OracleBaseURL:     url,
		OracleModel:       "text-model",
		OracleVisionModel: "vision-model",
		OracleTimeout:     5 * time.Second,
		OracleMaxTokens:   512,
	}
}

func writeChoice(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model":   "served-model",
		"choices": []map[string]any{{"message": map[string]any{"content": content}}},
	})
}

func TestComplete_TextRequest(t *testing.T) {
	t.Parallel()
	var got recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeChoice(w, `{"items":[]}`)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL + "/"))
	require.True(t, c.Ready())
	out, err := c.Complete(context.Background(), domain.OracleRequest{System: "sys", Prompt: "note ceci"})
	require.NoError(t, err)
	assert.Equal(t, `{"items":[]}`, out)

	assert.Equal(t, "text-model", got.Model)
	assert.Equal(t, 512, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.JSONEq(t, `"note ceci"`, string(got.Messages[1].Content))
}

func TestComplete_VisionRequest(t *testing.T) {
	t.Parallel()
	var got recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeChoice(w, `{"canvasDetected":true}`)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.Complete(context.Background(), domain.OracleRequest{Prompt: "voir", Image: []byte{0x89, 'P', 'N', 'G'}, ImageMIME: "image/png", MaxTokens: 64})
	require.NoError(t, err)

	assert.Equal(t, "vision-model", got.Model)
	assert.Equal(t, 64, got.MaxTokens)
	require.Len(t, got.Messages, 1, "blank system prompt is not sent")
	var parts []contentPart
	require.NoError(t, json.Unmarshal(got.Messages[0].Content, &parts))
	require.Len(t, parts, 2)
	assert.Equal(t, "voir", parts[0].Text)
	require.NotNil(t, parts[1].ImageURL)
	assert.True(t, strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,"))
}

func TestComplete_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
	}{
		{"rate limited", http.StatusTooManyRequests},
		{"server error", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if calls.Add(1) < 3 {
					w.WriteHeader(tt.status)
					return
				}
				writeChoice(w, "ok")
			}))
			defer srv.Close()

			out, err := New(testConfig(srv.URL)).Complete(context.Background(), domain.OracleRequest{Prompt: "p"})
			require.NoError(t, err)
			assert.Equal(t, "ok", out)
			assert.Equal(t, int32(3), calls.Load())
		})
	}
}

func TestComplete_Failures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantErr   error
		notErr    error
		wantCalls int32 // 0 means "at least one"
	}{
		{
			name:      "client error is final",
			handler:   func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadRequest) },
			wantErr:   domain.ErrOracleUnavailable,
			notErr:    domain.ErrUpstreamRateLimit,
			wantCalls: 1,
		},
		{
			name:    "persistent rate limit",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			wantErr: domain.ErrUpstreamRateLimit,
		},
		{
			name:      "undecodable body",
			handler:   func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("<html>")) },
			wantErr:   domain.ErrOracleMalformed,
			wantCalls: 1,
		},
		{
			name:      "no choices",
			handler:   func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"choices":[]}`)) },
			wantErr:   domain.ErrOracleMalformed,
			wantCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}))
			defer srv.Close()

			_, err := New(testConfig(srv.URL)).Complete(context.Background(), domain.OracleRequest{Prompt: "p"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.notErr != nil {
				assert.NotErrorIs(t, err, tt.notErr)
			}
			if tt.wantCalls > 0 {
				assert.Equal(t, tt.wantCalls, calls.Load())
			} else {
				assert.GreaterOrEqual(t, calls.Load(), int32(1))
			}
		})
	}
}

func TestComplete_MissingKey(t *testing.T) {
	t.Parallel()
	c := New(config.Config{AppEnv: "test"})
	assert.False(t, c.Ready())
	_, err := c.Complete(context.Background(), domain.OracleRequest{Prompt: "p"})
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
}

func TestComplete_DeadlineIsUpstreamTimeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		writeChoice(w, "late")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(testConfig(srv.URL)).Complete(ctx, domain.OracleRequest{Prompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
}

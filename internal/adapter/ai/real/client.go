// Package real implements the grading oracle against an OpenAI-compatible
// chat completions endpoint (Gemini's compatibility layer by default).
package real

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dlegrain/EVAL-COSEP/internal/adapter/ai/tokencount"
	"github.com/dlegrain/EVAL-COSEP/internal/adapter/observability"
	"github.com/dlegrain/EVAL-COSEP/internal/config"
	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

const (
	provider         = "openai-compatible"
	maxResponseBytes = 4 << 20
	logSnippetBytes  = 512
)

// Client implements domain.Oracle.
type Client struct {
	cfg     config.Config
	hc      *http.Client
	counter *tokencount.Counter
}

// New constructs a client whose transport is traced with otelhttp. Per-call
// deadlines come from the caller's context; the client timeout is only a backstop.
func New(cfg config.Config) *Client {
	timeout := 2 * cfg.OracleTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		counter: tokencount.DefaultCounter,
	}
}

// Ready reports whether an API key is configured.
func (c *Client) Ready() bool { return c.cfg.OracleConfigured() }

func (c *Client) getBackoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	maxElapsedTime, initialInterval, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo.MaxElapsedTime = maxElapsedTime
	expo.InitialInterval = initialInterval
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	return expo
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// buildRequest turns an oracle request into a chat completion body. An image
// switches to the vision model and a multi-part user message.
func (c *Client) buildRequest(req domain.OracleRequest) (chatRequest, string) {
	model, op := c.cfg.OracleModel, "chat"
	var user any = req.Prompt
	if len(req.Image) > 0 {
		model, op = c.cfg.OracleVisionModel, "vision"
		mime := req.ImageMIME
		if mime == "" {
			mime = http.DetectContentType(req.Image)
		}
		user = []contentPart{
			{Type: "text", Text: req.Prompt},
			{Type: "image_url", ImageURL: &imageURL{URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Image)}},
		}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.OracleMaxTokens
	}
	body := chatRequest{Model: model, Temperature: 0.2, MaxTokens: maxTokens}
	if strings.TrimSpace(req.System) != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: user})
	return body, op
}

// Complete sends one chat completion and returns the first choice's text.
// 429 and 5xx are retried with exponential backoff; other 4xx are final.
func (c *Client) Complete(ctx domain.Context, req domain.OracleRequest) (string, error) {
	if !c.Ready() {
		return "", fmt.Errorf("op=real.Client.Complete: ORACLE_API_KEY missing: %w", domain.ErrOracleUnavailable)
	}
	body, op := c.buildRequest(req)
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("op=real.Client.Complete: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.OracleBaseURL, "/") + "/chat/completions"

	var (
		out         chatResponse
		rateLimited bool
	)
	attempt := func() error {
		start := time.Now()
		// Recreate request each attempt to avoid reusing consumed bodies
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
		if err != nil {
			return backoff.Permanent(err)
		}
		r.Header.Set("Authorization", "Bearer "+c.cfg.OracleAPIKey)
		r.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(r)
		observability.AIRequestsTotal.WithLabelValues(provider, op).Inc()
		observability.AIRequestDuration.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return err
		}
		rateLimited = resp.StatusCode == http.StatusTooManyRequests
		switch {
		case rateLimited:
			slog.Warn("oracle rate limited", slog.String("provider", provider), slog.String("op", op), slog.String("retry_after", resp.Header.Get("Retry-After")))
			return fmt.Errorf("rate limited: %d", resp.StatusCode)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			slog.Warn("oracle 4xx", slog.String("provider", provider), slog.String("op", op), slog.Int("status", resp.StatusCode), slog.String("model", body.Model), slog.String("body", snippet(data)))
			return backoff.Permanent(fmt.Errorf("chat status %d", resp.StatusCode))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			slog.Error("oracle non-2xx", slog.String("provider", provider), slog.String("op", op), slog.Int("status", resp.StatusCode), slog.String("model", body.Model), slog.String("body", snippet(data)))
			return fmt.Errorf("chat status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(data, &out); err != nil {
			slog.Error("oracle decode error", slog.String("provider", provider), slog.String("op", op), slog.Any("error", err))
			return backoff.Permanent(fmt.Errorf("decode chat response: %w: %w", err, domain.ErrOracleMalformed))
		}
		return nil
	}

	if err := backoff.Retry(attempt, backoff.WithContext(c.getBackoffConfig(), ctx)); err != nil {
		return "", c.classify(ctx, err, rateLimited)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("op=real.Client.Complete: empty choices: %w", domain.ErrOracleMalformed)
	}
	content := out.Choices[0].Message.Content

	usage := c.counter.Usage(req.System, req.Prompt, content, body.Model)
	observability.RecordTokens(body.Model, usage.PromptTokens, usage.CompletionTokens)
	slog.Debug("oracle call successful",
		slog.String("provider", provider),
		slog.String("op", op),
		slog.String("model", body.Model),
		slog.String("actual_model", out.Model),
		slog.Int("prompt_tokens", usage.PromptTokens),
		slog.Int("completion_tokens", usage.CompletionTokens))
	return content, nil
}

func (c *Client) classify(ctx context.Context, err error, rateLimited bool) error {
	switch {
	case errors.Is(err, domain.ErrOracleMalformed):
		return fmt.Errorf("op=real.Client.Complete: %w", err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("op=real.Client.Complete: %w: %w", domain.ErrUpstreamTimeout, ctx.Err())
	case ctx.Err() != nil:
		return fmt.Errorf("op=real.Client.Complete: %w", ctx.Err())
	case rateLimited:
		return fmt.Errorf("op=real.Client.Complete: %v: %w", err, domain.ErrUpstreamRateLimit)
	default:
		return fmt.Errorf("op=real.Client.Complete: %v: %w", err, domain.ErrOracleUnavailable)
	}
}

func snippet(b []byte) string {
	if len(b) > logSnippetBytes {
		b = b[:logSnippetBytes]
	}
	return string(b)
}

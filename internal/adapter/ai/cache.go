// Package ai holds the decorators placed around the grading oracle client.
package ai

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dlegrain/EVAL-COSEP/internal/adapter/observability"
	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

const cacheKeyPrefix = "oracle:v1:"

// cacheClient memoizes oracle answers in Redis so that an identical
// submission (same prompt, same image) is graded identically and for free.
type cacheClient struct {
	base      domain.Oracle
	rdb       redis.Cmdable
	ttl       time.Duration
	namespace string
}

// NewCache wraps base with a Redis-backed response cache. namespace should
// identify the model so a model change invalidates old answers. When rdb is
// nil or ttl <= 0, base is returned unmodified.
func NewCache(base domain.Oracle, rdb redis.Cmdable, ttl time.Duration, namespace string) domain.Oracle {
	if base == nil || rdb == nil || ttl <= 0 {
		return base
	}
	return &cacheClient{base: base, rdb: rdb, ttl: ttl, namespace: namespace}
}

// Ready delegates to the wrapped oracle.
func (c *cacheClient) Ready() bool {
	if rr, ok := c.base.(domain.ReadinessReporter); ok {
		return rr.Ready()
	}
	return true
}

// Complete serves from cache when possible. Redis failures degrade to a plain call.
func (c *cacheClient) Complete(ctx domain.Context, req domain.OracleRequest) (string, error) {
	key := c.keyFor(req)
	cached, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		observability.AICacheLookupsTotal.WithLabelValues("hit").Inc()
		return cached, nil
	case errors.Is(err, redis.Nil):
		observability.AICacheLookupsTotal.WithLabelValues("miss").Inc()
	default:
		observability.AICacheLookupsTotal.WithLabelValues("error").Inc()
		slog.Warn("oracle cache lookup failed", slog.Any("error", err))
	}

	out, err := c.base.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) != "" {
		if err := c.rdb.Set(ctx, key, out, c.ttl).Err(); err != nil {
			slog.Warn("oracle cache store failed", slog.Any("error", err))
		}
	}
	return out, nil
}

// keyFor hashes every field that influences the answer. Each field is
// length-prefixed so that field boundaries cannot collide.
func (c *cacheClient) keyFor(req domain.OracleRequest) string {
	h := sha256.New()
	var n [8]byte
	write := func(b []byte) {
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		h.Write(n[:])
		h.Write(b)
	}
	write([]byte(c.namespace))
	write([]byte(req.System))
	write([]byte(strings.TrimSpace(req.Prompt)))
	write([]byte(req.ImageMIME))
	write(req.Image)
	binary.BigEndian.PutUint64(n[:], uint64(req.MaxTokens))
	h.Write(n[:])
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"NewsRAG/internal/domain"
	"NewsRAG/internal/ports"
)

// Commands is the subset of the go-redis client used by the cache.
type Commands interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// EmbeddingCache memoises embeddings in Redis keyed by model and text hash.
// Redis failures are logged and the request falls through to the wrapped embedder.
type EmbeddingCache struct {
	next   ports.Embedder
	redis  Commands
	prefix string
	model  string
	ttl    time.Duration
	logger *slog.Logger
}

var _ ports.Embedder = (*EmbeddingCache)(nil)

// NewEmbeddingCache wraps next with a Redis lookup.
func NewEmbeddingCache(next ports.Embedder, rdb Commands, prefix, model string, ttl time.Duration, logger *slog.Logger) *EmbeddingCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingCache{
		next:   next,
		redis:  rdb,
		prefix: prefix,
		model:  model,
		ttl:    ttl,
		logger: logger,
	}
}

// NewClient parses a redis:// URL into a client.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Embed serves cached vectors and embeds only the misses, keeping input order.
func (c *EmbeddingCache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.key(text)
	}

	out := make([][]float32, len(texts))
	cached, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("embedding cache lookup failed", "error", err)
		cached = nil
	}
	for i, raw := range cached {
		if i >= len(out) {
			break
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		if v, ok := decode(s); ok {
			out[i] = v
		}
	}

	var missIdx []int
	var missTexts []string
	for i, v := range out {
		if v == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	if len(missTexts) == 0 {
		c.logger.Debug("embedding cache hit", "count", len(texts))
		return out, nil
	}

	vectors, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("%w: embedding cache: embedder returned %d vectors for %d texts", domain.ErrModelOutput, len(vectors), len(missTexts))
	}

	for j, i := range missIdx {
		out[i] = vectors[j]
		if err := c.redis.Set(ctx, keys[i], encode(vectors[j]), c.ttl).Err(); err != nil {
			c.logger.Warn("embedding cache store failed", "error", err)
		}
	}
	return out, nil
}

func (c *EmbeddingCache) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + c.model + ":" + hex.EncodeToString(sum[:])
}

func encode(v []float32) string {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return string(buf)
}

func decode(s string) ([]float32, bool) {
	if len(s) == 0 || len(s)%4 != 0 {
		return nil, false
	}
	b := []byte(s)
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, true
}

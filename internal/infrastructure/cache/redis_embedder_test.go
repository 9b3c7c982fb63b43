package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"NewsRAG/internal/domain"
	"NewsRAG/internal/logging"
)

type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	mgetErr error
	setErr  error
	ttls    map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) MGet(_ context.Context, keys ...string) *redis.SliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mgetErr != nil {
		return redis.NewSliceResult(nil, f.mgetErr)
	}
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		if v, ok := f.values[k]; ok {
			out[i] = v
		}
	}
	return redis.NewSliceResult(out, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.values[key] = value.(string)
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

type countingEmbedder struct {
	calls [][]string
	err   error
	short bool
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls = append(e.calls, append([]string(nil), texts...))
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 0.5}
	}
	if e.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func TestEmbeddingCacheServesHitsAndEmbedsMisses(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	inner := &countingEmbedder{}
	cache := NewEmbeddingCache(inner, rdb, "test:", "model-a", time.Hour, logging.Discard())

	first, err := cache.Embed(context.Background(), []string{"alpha", "be"})
	if err != nil {
		t.Fatalf("first embed: %v", err)
	}
	if len(inner.calls) != 1 || len(inner.calls[0]) != 2 {
		t.Fatalf("expected one call with two texts, got %v", inner.calls)
	}

	second, err := cache.Embed(context.Background(), []string{"be", "gamma", "alpha"})
	if err != nil {
		t.Fatalf("second embed: %v", err)
	}
	if len(inner.calls) != 2 || len(inner.calls[1]) != 1 || inner.calls[1][0] != "gamma" {
		t.Fatalf("expected only the miss to be embedded, got %v", inner.calls)
	}
	if second[0][0] != first[1][0] || second[2][0] != first[0][0] || second[1][0] != 5 {
		t.Fatalf("order not preserved: %v", second)
	}
	for key, ttl := range rdb.ttls {
		if ttl != time.Hour {
			t.Fatalf("key %s stored with ttl %v", key, ttl)
		}
	}
}

func TestEmbeddingCacheKeysIncludeModel(t *testing.T) {
	t.Parallel()

	a := NewEmbeddingCache(nil, nil, "p:", "model-a", 0, nil)
	b := NewEmbeddingCache(nil, nil, "p:", "model-b", 0, nil)
	if a.key("same text") == b.key("same text") {
		t.Fatalf("keys must differ across models")
	}
	if a.key("one") == a.key("two") {
		t.Fatalf("keys must differ across texts")
	}
}

func TestEmbeddingCacheFallsThroughOnRedisErrors(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	rdb.mgetErr = errors.New("connection refused")
	rdb.setErr = errors.New("connection refused")
	inner := &countingEmbedder{}
	cache := NewEmbeddingCache(inner, rdb, "test:", "m", time.Minute, logging.Discard())

	got, err := cache.Embed(context.Background(), []string{"q"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(got) != 1 || got[0][0] != 1 {
		t.Fatalf("unexpected vectors: %v", got)
	}
}

func TestEmbeddingCachePropagatesEmbedderError(t *testing.T) {
	t.Parallel()

	boom := errors.New("upstream down")
	cache := NewEmbeddingCache(&countingEmbedder{err: boom}, newFakeRedis(), "t:", "m", time.Minute, logging.Discard())
	if _, err := cache.Embed(context.Background(), []string{"q"}); !errors.Is(err, boom) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestEmbeddingCacheClassifiesShortResponse(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	cache := NewEmbeddingCache(&countingEmbedder{short: true}, rdb, "t:", "m", time.Minute, logging.Discard())

	_, err := cache.Embed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, domain.ErrModelOutput) {
		t.Fatalf("expected model output error, got %v", err)
	}
	if len(rdb.values) != 0 {
		t.Fatalf("nothing may be cached from a mismatched response, got %d keys", len(rdb.values))
	}
}

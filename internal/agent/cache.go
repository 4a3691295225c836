package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
)

// ResponseCache keeps responses in an in-memory LRU backed by storage, so a
// rerun with identical prompts replays earlier generations.
type ResponseCache struct {
	storage core.Storage
	memory  *lru.Cache[string, string]
	ttl     time.Duration
	logger  *slog.Logger
}

type CachedResponse struct {
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// NewResponseCache creates a cache; storage may be nil for memory only.
func NewResponseCache(storage core.Storage, size int, ttl time.Duration) (*ResponseCache, error) {
	if size <= 0 {
		size = 256
	}
	memory, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("creating response LRU: %w", err)
	}
	return &ResponseCache{
		storage: storage,
		memory:  memory,
		ttl:     ttl,
		logger:  slog.Default().With("component", "response_cache"),
	}, nil
}

// CacheKey identifies a response by stage, model URI and prompt. model may
// be empty when the gateway cannot resolve routes.
func CacheKey(stage, model, prompt string) string {
	hash := sha256.Sum256([]byte(stage + "\x00" + model + "\x00" + prompt))
	return hex.EncodeToString(hash[:])
}

func cachePath(key string) string {
	return fmt.Sprintf("cache/responses/%s.json", key)
}

func (c *ResponseCache) Get(ctx context.Context, key string) (string, bool) {
	if response, ok := c.memory.Get(key); ok {
		c.logger.Debug("cache hit", "key", key, "layer", "memory")
		return response, true
	}
	if c.storage == nil {
		return "", false
	}

	data, err := c.storage.Load(ctx, cachePath(key))
	if err != nil {
		return "", false
	}

	var cached CachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		c.logger.Error("cache miss - invalid data",
			"key", key,
			"error", err)
		return "", false
	}

	if age := time.Since(cached.Timestamp); c.ttl > 0 && age > c.ttl {
		c.logger.Debug("cache miss - expired",
			"key", key,
			"age", age,
			"ttl", c.ttl)
		return "", false
	}

	c.memory.Add(key, cached.Response)
	c.logger.Debug("cache hit", "key", key, "layer", "storage")
	return cached.Response, true
}

func (c *ResponseCache) Set(ctx context.Context, key, response string) error {
	c.memory.Add(key, response)
	if c.storage == nil {
		return nil
	}

	data, err := json.Marshal(CachedResponse{
		Response:  response,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshaling cached response: %w", err)
	}

	if err := c.storage.Save(ctx, cachePath(key), data); err != nil {
		return fmt.Errorf("saving cached response: %w", err)
	}
	return nil
}

func (c *ResponseCache) Len() int {
	return c.memory.Len()
}

type cacheHitKey struct{}

// TrackCacheHits returns a context under which a CachedGateway reports
// whether the call was answered from cache.
func TrackCacheHits(ctx context.Context) (context.Context, *atomic.Bool) {
	hit := new(atomic.Bool)
	return context.WithValue(ctx, cacheHitKey{}, hit), hit
}

// CachedGateway serves repeated (stage, model, prompt) triples from a
// ResponseCache. Retries (Attempt > 1) always go to the model; their
// answers replace the cached one.
type CachedGateway struct {
	next   Gateway
	cache  *ResponseCache
	logger *slog.Logger
}

func WithCache(next Gateway, cache *ResponseCache) *CachedGateway {
	return &CachedGateway{
		next:   next,
		cache:  cache,
		logger: slog.Default().With("component", "cached_gateway"),
	}
}

func (g *CachedGateway) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	var model string
	if r, ok := g.next.(Resolver); ok {
		model = r.Resolve(opts.Stage)
	}
	key := CacheKey(opts.Stage, model, prompt)

	if opts.Attempt <= 1 {
		if response, ok := g.cache.Get(ctx, key); ok {
			if hit, ok := ctx.Value(cacheHitKey{}).(*atomic.Bool); ok {
				hit.Store(true)
			}
			return response, nil
		}
	} else {
		g.logger.Debug("cache bypassed for retry", "stage", opts.Stage, "attempt", opts.Attempt)
	}

	response, err := g.next.Generate(ctx, prompt, opts)
	if err != nil {
		return "", err
	}

	if err := g.cache.Set(ctx, key, response); err != nil {
		g.logger.Warn("failed to cache response",
			"stage", opts.Stage,
			"error", err)
	}
	return response, nil
}

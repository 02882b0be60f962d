package intel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// CacheConfig controls the intelligence cache.
type CacheConfig struct {
	MaxEntries  int           `yaml:"max_entries" json:"max_entries"`
	TTL         time.Duration `yaml:"ttl" json:"ttl"`
	NegativeTTL time.Duration `yaml:"negative_ttl" json:"negative_ttl"`
}

// DefaultCacheConfig returns sane defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries:  10000,
		TTL:         time.Hour,
		NegativeTTL: 5 * time.Minute,
	}
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Shared    int64 `json:"shared"`
	Negatives int64 `json:"negatives"`
	Entries   int   `json:"entries"`
}

type inflight struct {
	done   chan struct{}
	result Result
}

// Cache is the read-mostly intelligence cache in front of a Provider.
//
// A non-expired entry is served without an external call. Concurrent lookups
// for the same uncached key share one in-flight provider query. Provider
// failure caches the unknown sentinel with a short negative TTL so a dead
// provider is not hammered on every record.
//
// Lookup never returns an error: every failure mode resolves to a valid
// Result, which is what keeps the detection path non-blocking.
type Cache struct {
	cfg      CacheConfig
	provider Provider
	logger   zerolog.Logger

	entries *lru.Cache[string, Result]

	mu       sync.Mutex
	inFlight map[string]*inflight

	hits      atomic.Int64
	misses    atomic.Int64
	shared    atomic.Int64
	negatives atomic.Int64
}

// NewCache creates an intelligence cache over the given provider.
func NewCache(cfg CacheConfig, provider Provider, logger zerolog.Logger) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheConfig().MaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig().TTL
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = DefaultCacheConfig().NegativeTTL
	}
	entries, _ := lru.New[string, Result](cfg.MaxEntries)
	return &Cache{
		cfg:      cfg,
		provider: provider,
		logger:   logger.With().Str("component", "intel_cache").Logger(),
		entries:  entries,
		inFlight: make(map[string]*inflight),
	}
}

// Lookup resolves ip to an intelligence Result, consulting the cache first.
func (c *Cache) Lookup(ctx context.Context, ip string) Result {
	if IsLocalAddress(ip) {
		return LocalResult(ip, c.cfg.TTL)
	}

	now := time.Now()
	if res, ok := c.entries.Get(ip); ok && !res.Expired(now) {
		c.hits.Add(1)
		return res
	}

	c.mu.Lock()
	if fl, ok := c.inFlight[ip]; ok {
		c.mu.Unlock()
		c.shared.Add(1)
		select {
		case <-fl.done:
			return fl.result
		case <-ctx.Done():
			return UnknownResult(ip, c.cfg.NegativeTTL)
		}
	}
	fl := &inflight{done: make(chan struct{})}
	c.inFlight[ip] = fl
	c.mu.Unlock()

	c.misses.Add(1)
	res := c.fetch(ctx, ip)

	c.entries.Add(ip, res)

	fl.result = res
	close(fl.done)
	c.mu.Lock()
	delete(c.inFlight, ip)
	c.mu.Unlock()

	return res
}

func (c *Cache) fetch(ctx context.Context, ip string) Result {
	res, err := c.provider.Fetch(ctx, ip)
	if err != nil {
		c.negatives.Add(1)
		c.logger.Warn().Err(err).Str("ip", ip).Msg("intelligence lookup failed — caching unknown")
		return UnknownResult(ip, c.cfg.NegativeTTL)
	}
	res.TTL = c.cfg.TTL
	return res
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Shared:    c.shared.Load(),
		Negatives: c.negatives.Load(),
		Entries:   c.entries.Len(),
	}
}

// StartCleanup runs a background goroutine that evicts expired entries so
// stale results do not pin LRU slots. Call the returned function to stop it.
func (c *Cache) StartCleanup(interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				now := time.Now()
				for _, key := range c.entries.Keys() {
					if res, ok := c.entries.Peek(key); ok && res.Expired(now) {
						c.entries.Remove(key)
					}
				}
			}
		}
	}()
	return func() { close(done) }
}

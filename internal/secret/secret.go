// Package secret implements the Secret Provider (C4): a chained backend
// lookup with a TTL cache.
package secret

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Backend resolves one key, or returns ok=false if it doesn't have it.
type Backend interface {
	Name() string
	Lookup(ctx context.Context, key string) (value string, ok bool, err error)
}

// EnvBackend reads from the process environment. It is always the
// fallback backend: cheap, always present, never authoritative.
type EnvBackend struct {
	lookup func(string) (string, bool)
}

// NewEnvBackend creates an EnvBackend over os.LookupEnv.
func NewEnvBackend(lookup func(string) (string, bool)) *EnvBackend {
	return &EnvBackend{lookup: lookup}
}

func (b *EnvBackend) Name() string { return "env" }

func (b *EnvBackend) Lookup(ctx context.Context, key string) (string, bool, error) {
	v, ok := b.lookup(key)
	return v, ok, nil
}

type cacheEntry struct {
	value     string
	fetchedAt time.Time
}

// Provider chains backends in priority order; the first backend to
// return a non-empty value wins. Results are cached for TTL, keyed by
// secret name, thread-safe and process-scoped.
type Provider struct {
	mu       sync.RWMutex
	backends []Backend
	ttl      time.Duration
	cache    map[string]cacheEntry
	warnings []string
}

// NewProvider creates a Provider trying backends in order, primary
// first, environment last.
func NewProvider(ttl time.Duration, backends ...Backend) *Provider {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &Provider{
		backends: backends,
		ttl:      ttl,
		cache:    make(map[string]cacheEntry),
	}
}

// Get resolves key through the cache, then the backend chain in order.
// Cache misses that end up empty across all backends are not cached, so
// a later run of the process (or a later call after a secret is
// provisioned) can pick it up without waiting out the TTL.
func (p *Provider) Get(ctx context.Context, key string) (string, bool) {
	if v, ok := p.cached(key); ok {
		return v, true
	}

	for _, b := range p.backends {
		v, ok, err := b.Lookup(ctx, key)
		if err != nil {
			zap.L().Warn("secret backend lookup failed",
				zap.String("backend", b.Name()), zap.String("key", key), zap.Error(err))
			continue
		}
		if ok && v != "" {
			p.store(key, v)
			return v, true
		}
	}
	return "", false
}

func (p *Provider) cached(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.cache[key]
	if !ok || time.Since(entry.fetchedAt) > p.ttl {
		return "", false
	}
	return entry.value, true
}

func (p *Provider) store(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[key] = cacheEntry{value: value, fetchedAt: time.Now()}
}

// CheckRequired resolves every key in required and records a warning
// for any that are absent; it never fails. Missing-but-expected secrets
// are surfaced in the startup health summary, not treated as fatal here
// - the caller (Orchestrator, at Init) decides whether an absent key is
// fatal for the agents actually scheduled this run.
func (p *Provider) CheckRequired(ctx context.Context, required []string) (present map[string]bool) {
	present = make(map[string]bool, len(required))
	for _, key := range required {
		_, ok := p.Get(ctx, key)
		present[key] = ok
		if !ok {
			p.mu.Lock()
			p.warnings = append(p.warnings, key)
			p.mu.Unlock()
		}
	}
	return present
}

// Warnings returns the keys that were absent across every backend,
// accumulated over every CheckRequired call since the provider was
// created or last reset by ResetCacheForTest.
func (p *Provider) Warnings() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.warnings))
	copy(out, p.warnings)
	return out
}

// ResetCacheForTest clears the TTL cache. Exists solely so tests don't
// leak cached secrets across test boundaries - never call this from
// production code.
func (p *Provider) ResetCacheForTest() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]cacheEntry)
	p.warnings = nil
}

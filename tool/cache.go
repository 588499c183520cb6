package tool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/runtime"
	"github.com/no-ai-labs/spice-go/schema"
)

// BypassParam, when set to true in the parameter map, makes a cached tool
// delegate without reading or recording.
const BypassParam = "bypass_cache"

// KeyBuilder derives a cache key from the parameters and the ambient
// execution context.
type KeyBuilder func(params map[string]any, ec runtime.ExecutionContext) string

// CacheOptions configures a Cached wrapper.
type CacheOptions struct {
	MaxSize       int
	TTL           time.Duration
	KeyBuilder    KeyBuilder
	RespectBypass bool
}

// CacheStats is an atomic snapshot of cache counters.
type CacheStats struct {
	Hits   int64
	Misses int64
	Size   int
}

// HitRate is hits/(hits+misses), 0 when empty.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type cacheEntry struct {
	value        schema.ToolResult
	createdAt    time.Time
	hitCount     int64
	insertedAt   int64 // monotonic sequences, not wall clock, for deterministic LRU
	lastAccessed int64
}

// CachedTool wraps a tool with a context-keyed TTL + LRU cache. Only
// SUCCESS results are cached; ERROR and WAITING_HITL outcomes always
// delegate on the next call.
type CachedTool struct {
	Tool
	opts    CacheOptions
	mu      sync.Mutex
	entries map[string]*cacheEntry
	seq     int64
	hits    atomic.Int64
	misses  atomic.Int64
}

// Cached wraps a tool with caching. MaxSize defaults to 128, TTL to 5
// minutes.
func Cached(t Tool, opts CacheOptions) *CachedTool {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 128
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	return &CachedTool{Tool: t, opts: opts, entries: make(map[string]*cacheEntry)}
}

func (c *CachedTool) Execute(ctx context.Context, params map[string]any) result.Result[schema.ToolResult] {
	if c.opts.RespectBypass {
		if v, ok := params[BypassParam].(bool); ok && v {
			stripped := make(map[string]any, len(params))
			for k, val := range params {
				if k == BypassParam {
					continue
				}
				stripped[k] = val
			}
			return c.Tool.Execute(ctx, stripped)
		}
	}

	key := c.key(ctx, params)

	if cached, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return result.Success(cached)
	}
	c.misses.Add(1)

	res := c.Tool.Execute(ctx, params)
	if value, ok := res.Value(); ok && value.Status == schema.ToolStatusSuccess {
		c.store(key, value)
	}
	return res
}

// Stats returns the current counters.
func (c *CachedTool) Stats() CacheStats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: size}
}

// Invalidate drops all entries; counters are preserved.
func (c *CachedTool) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

func (c *CachedTool) key(ctx context.Context, params map[string]any) string {
	ec, _ := runtime.FromContext(ctx)
	if c.opts.KeyBuilder != nil {
		return c.opts.KeyBuilder(params, ec)
	}
	return DefaultCacheKey(params, ec)
}

// DefaultCacheKey hashes the canonicalized parameters (sorted by name,
// "__"-prefixed and bypass keys excluded) together with the context
// fingerprint.
func DefaultCacheKey(params map[string]any, ec runtime.ExecutionContext) string {
	names := make([]string, 0, len(params))
	for name := range params {
		if strings.HasPrefix(name, "__") || name == BypassParam {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(name)
		b.WriteByte('=')
		if encoded, err := json.Marshal(params[name]); err == nil {
			b.Write(encoded)
		} else {
			fmt.Fprintf(&b, "%v", params[name])
		}
	}
	b.WriteString("::")
	b.WriteString(ec.Fingerprint())

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func (c *CachedTool) lookup(key string) (schema.ToolResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return schema.ToolResult{}, false
	}
	if time.Since(entry.createdAt) > c.opts.TTL {
		delete(c.entries, key)
		return schema.ToolResult{}, false
	}
	entry.hitCount++
	c.seq++
	entry.lastAccessed = c.seq
	return entry.value, true
}

func (c *CachedTool) store(key string, value schema.ToolResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.opts.MaxSize {
		c.evictLocked()
	}
	// lastAccessed stays 0 until the first read: a never-read entry must
	// rank older than any read entry, whatever order they were inserted in.
	c.seq++
	c.entries[key] = &cacheEntry{
		value:      value,
		createdAt:  time.Now(),
		insertedAt: c.seq,
	}
}

// evictLocked removes the strict LRU entry. Never-read entries (lastAccessed
// 0) go first, oldest insertion first; remaining ties break by key for
// determinism.
func (c *CachedTool) evictLocked() {
	var victim string
	var victimEntry *cacheEntry
	for key, entry := range c.entries {
		if victimEntry == nil || entryOlder(entry, key, victimEntry, victim) {
			victim, victimEntry = key, entry
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}

func entryOlder(a *cacheEntry, aKey string, b *cacheEntry, bKey string) bool {
	if a.lastAccessed != b.lastAccessed {
		return a.lastAccessed < b.lastAccessed
	}
	if a.insertedAt != b.insertedAt {
		return a.insertedAt < b.insertedAt
	}
	return aKey < bKey
}

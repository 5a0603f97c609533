package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/iwbot/internal/marker"
	"github.com/MimeLyc/iwbot/internal/metrics"
	"github.com/MimeLyc/iwbot/internal/wikitext"
	"github.com/MimeLyc/iwbot/pkg/log"
)

// Source answers lookups that are not cached.
type Source interface {
	Lookup(ctx context.Context, lang, title string) (Lookup, error)
}

// Backend persists lookups across runs. Get reports false for a missing or
// expired entry. A zero expiresAt means the entry never expires.
type Backend interface {
	GetIdentity(ctx context.Context, lang, title string, now time.Time) (Lookup, bool, error)
	PutIdentity(ctx context.Context, lang, title string, l Lookup, expiresAt time.Time) error
	ClearIdentities(ctx context.Context) error
}

type Options struct {
	// PositiveTTL applies to existing pages, NegativeTTL to missing ones.
	// Zero disables expiry.
	PositiveTTL time.Duration
	NegativeTTL time.Duration
	// Concurrency bounds Prefetch. Values below 1 mean 1.
	Concurrency int
	Now         func() time.Time
}

// Cache memoizes lookups in memory, then in the backend, then asks the
// source. Concurrent misses for one key share a single live lookup.
type Cache struct {
	source  Source
	backend Backend
	opts    Options

	mu      sync.RWMutex
	entries map[Key]entry

	group singleflight.Group
}

// entry is a memoized lookup; a zero expires never expires.
type entry struct {
	lookup  Lookup
	expires time.Time
}

func (e entry) fresh(now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

// NewCache creates a cache. backend may be nil for a memory-only cache.
func NewCache(source Source, backend Backend, opts Options) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Cache{
		source:  source,
		backend: backend,
		opts:    opts,
		entries: make(map[Key]entry),
	}
}

// CanonicalKey validates title and brings it to its canonical form for lang.
// A section fragment ("Стаття#Розділ") addresses its page, so it is dropped.
func CanonicalKey(lang, title string) (Key, error) {
	if lang == marker.RegistryLang {
		id := strings.ToUpper(strings.TrimSpace(title))
		if err := wikitext.ValidateTitle(id); err != nil {
			return Key{}, &InvalidTitleError{Lang: lang, Title: title, Reason: err}
		}
		return Key{Lang: lang, Title: id}, nil
	}
	normalized := wikitext.NormalizeTitle(wikitext.StripFragment(title))
	if err := wikitext.ValidateTitle(normalized); err != nil {
		return Key{}, &InvalidTitleError{Lang: lang, Title: title, Reason: err}
	}
	return Key{Lang: lang, Title: normalized}, nil
}

func (c *Cache) Get(ctx context.Context, lang, title string) (Lookup, error) {
	key, err := CanonicalKey(lang, title)
	if err != nil {
		return Lookup{}, err
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && e.fresh(c.opts.Now()) {
		metrics.IdentityLookups.WithLabelValues("memory").Inc()
		return e.lookup, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		return c.load(ctx, key)
	})
	if err != nil {
		return Lookup{}, err
	}
	return v.(Lookup), nil
}

func (c *Cache) load(ctx context.Context, key Key) (Lookup, error) {
	if c.backend != nil {
		l, ok, err := c.backend.GetIdentity(ctx, key.Lang, key.Title, c.opts.Now())
		if err != nil {
			log.Warn("identity backend read %s failed: %v", key, err)
		} else if ok {
			metrics.IdentityLookups.WithLabelValues("store").Inc()
			c.remember(key, l)
			return l, nil
		}
	}

	l, err := c.source.Lookup(ctx, key.Lang, key.Title)
	if err != nil {
		metrics.IdentityFetchErrors.Inc()
		return Lookup{}, err
	}
	l = l.normalized()
	metrics.IdentityLookups.WithLabelValues("live").Inc()
	c.remember(key, l)

	if c.backend != nil {
		if err := c.backend.PutIdentity(ctx, key.Lang, key.Title, l, c.expiry(l)); err != nil {
			log.Warn("identity backend write %s failed: %v", key, err)
		}
	}
	return l, nil
}

func (c *Cache) remember(key Key, l Lookup) {
	c.mu.Lock()
	c.entries[key] = entry{lookup: l, expires: c.expiry(l)}
	c.mu.Unlock()
}

func (c *Cache) expiry(l Lookup) time.Time {
	ttl := c.opts.NegativeTTL
	if l.Exists {
		ttl = c.opts.PositiveTTL
	}
	if ttl <= 0 {
		return time.Time{}
	}
	return c.opts.Now().Add(ttl)
}

// Prefetch warms the cache for keys with bounded concurrency, so that a
// page's occurrences are resolved against entries loaded up front. Invalid
// titles are skipped; they fail again, typed, on Get.
func (c *Cache) Prefetch(ctx context.Context, keys []Key) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	seen := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		key, err := CanonicalKey(k.Lang, k.Title)
		if err != nil {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		g.Go(func() error {
			_, err := c.Get(gctx, key.Lang, key.Title)
			return err
		})
	}
	return g.Wait()
}

// Clear drops every entry, in memory and in the backend.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[Key]entry)
	c.mu.Unlock()
	if c.backend == nil {
		return nil
	}
	return c.backend.ClearIdentities(ctx)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

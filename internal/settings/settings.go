// Package settings serves operator-managed provider cookies. Values stored in
// the database win over the static configuration and are cached in memory
// for a short TTL.
package settings

import (
	"context"
	"sync"
	"time"

	"github.com/mediafetch/backend/internal/db"
	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/logger"
	"github.com/mediafetch/backend/internal/media"
)

const DefaultTTL = time.Minute

var log = logger.WithComponent("settings")

// Store reads and writes platform settings
type Store interface {
	Get(ctx context.Context, provider string) (*db.PlatformSetting, error)
	SetCookies(ctx context.Context, provider, cookies string) error
}

type entry struct {
	cookies string
	expires time.Time
}

// Cookies is an extractor.CookieSource backed by the settings table
type Cookies struct {
	store    Store
	fallback extractor.StaticCookies
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[media.ProviderID]entry
}

var _ extractor.CookieSource = (*Cookies)(nil)

// NewCookies creates the cookie source. store may be nil, in which case only
// the static fallback is served.
func NewCookies(store Store, fallback extractor.StaticCookies, ttl time.Duration) *Cookies {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if fallback == nil {
		fallback = extractor.StaticCookies{}
	}
	return &Cookies{
		store:    store,
		fallback: fallback,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[media.ProviderID]entry),
	}
}

// Cookies returns the cookie header for a provider
func (c *Cookies) Cookies(ctx context.Context, p media.ProviderID) string {
	c.mu.Lock()
	if c.store == nil {
		defer c.mu.Unlock()
		return c.fallback[p]
	}
	if e, ok := c.cache[p]; ok && c.now().Before(e.expires) {
		c.mu.Unlock()
		return e.cookies
	}
	value := c.fallback[p]
	c.mu.Unlock()

	s, err := c.store.Get(ctx, string(p))
	switch {
	case err != nil:
		log.Warn(ctx, "failed to load provider cookies", map[string]any{"provider": string(p), "error": err.Error()})
	case s != nil && s.Cookies != "":
		value = s.Cookies
	}

	c.mu.Lock()
	c.cache[p] = entry{cookies: value, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return value
}

// Set stores new cookies for a provider and drops the cached value
func (c *Cookies) Set(ctx context.Context, p media.ProviderID, cookies string) error {
	if c.store == nil {
		c.mu.Lock()
		c.fallback[p] = cookies
		c.mu.Unlock()
		return nil
	}
	if err := c.store.SetCookies(ctx, string(p), cookies); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.cache, p)
	c.mu.Unlock()
	return nil
}

// Configured reports, per provider, whether any cookies are available
func (c *Cookies) Configured(ctx context.Context) map[media.ProviderID]bool {
	out := make(map[media.ProviderID]bool)
	for _, p := range media.AllProviders() {
		out[p] = c.Cookies(ctx, p) != ""
	}
	return out
}

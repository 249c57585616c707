package session

import (
	"context"
	"log"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Default cleanup timings. The recently-ended TTL vetoes re-registration
// races after a session ends.
const (
	RecentlyEndedTTL       = 30 * time.Second
	DefaultCleanupInterval = 15 * time.Second
)

// Cleanup owns the recently-ended map and expires long-idle sessions. It is
// the sole consult point for registration rejection.
type Cleanup struct {
	recently *gocache.Cache
	interval time.Duration
	maxIdle  time.Duration
}

// NewCleanup builds a cleanup service. maxIdle <= 0 disables idle removal.
func NewCleanup(ttl, interval, maxIdle time.Duration) *Cleanup {
	if ttl <= 0 {
		ttl = RecentlyEndedTTL
	}
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &Cleanup{
		// Expiry is swept by Run rather than go-cache's own janitor so all
		// eviction happens on the cleanup tick.
		recently: gocache.New(ttl, gocache.NoExpiration),
		interval: interval,
		maxIdle:  maxIdle,
	}
}

// MarkEnded records a session id as recently ended.
func (c *Cleanup) MarkEnded(id string, endedAt time.Time) {
	c.recently.SetDefault(id, endedAt.UnixMilli())
}

// WasRecentlyEnded reports whether id ended within the TTL.
func (c *Cleanup) WasRecentlyEnded(id string) bool {
	_, found := c.recently.Get(id)
	return found
}

// Run sweeps expired recently-ended entries and removes sessions idle past
// maxIdle. Blocks until ctx is cancelled.
func (c *Cleanup) Run(ctx context.Context, registry *Registry) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.recently.DeleteExpired()
			c.expireIdle(registry)
		}
	}
}

func (c *Cleanup) expireIdle(registry *Registry) {
	if c.maxIdle <= 0 || registry == nil {
		return
	}
	now := time.Now()
	for _, s := range registry.List() {
		if s.IdleFor(now, c.maxIdle) {
			log.Printf("[cleanup] removing idle session %s (no activity for %s)", s.ID, c.maxIdle)
			_ = registry.End(s.ID, "idle_timeout")
		}
	}
}

// Package retention expires stale plan-cache entries. A cache entry
// maps a plan hash to raw-response refs; once it ages past the
// configured TTL the next execution of that plan fetches fresh data
// instead of replaying the stored responses. Effect indices are never
// pruned, so provenance chains stay resolvable.
//
// The janitor runs as a background goroutine and respects context
// cancellation for graceful shutdown.
package retention

import (
	"context"
	"time"

	"github.com/glossarium/glossarium/internal/store"
	"github.com/rs/zerolog/log"
)

// MinInterval is the floor for sweep frequency.
const MinInterval = time.Minute

// Janitor periodically deletes plan-cache entries older than ttl.
type Janitor struct {
	cache    store.PlanResponseIndex
	ttl      time.Duration
	interval time.Duration
}

// NewJanitor creates a janitor sweeping on the given interval. A ttl
// of zero disables pruning entirely.
func NewJanitor(cache store.PlanResponseIndex, ttl, interval time.Duration) *Janitor {
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Janitor{cache: cache, ttl: ttl, interval: interval}
}

// Start runs the janitor until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	if j.ttl <= 0 {
		return
	}
	log.Info().
		Dur("ttl", j.ttl).
		Dur("interval", j.interval).
		Msg("Cache janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Cache janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep and returns how many entries expired.
func (j *Janitor) RunCycle(ctx context.Context) int {
	cutoff := time.Now().Add(-j.ttl)
	removed, err := j.cache.PrunePlanCache(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("Cache janitor sweep failed")
		return 0
	}
	if removed > 0 {
		log.Info().
			Int("expired", removed).
			Time("cutoff", cutoff).
			Msg("Plan cache entries expired")
	}
	return removed
}

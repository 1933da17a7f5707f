// Package compactor implements the Compactor process: it watches a
// Channel's context size and, when it crosses configurable thresholds,
// invokes the owner's CompactFunc to fold older turns into a summary
// (the Channel runs that directly; no Worker is spawned for it). The
// tiered soft/hard/emergency response and background-refresh-with-cooldown
// shape are adapted from runtime/registry/cache.go's MemoryCache.
package compactor

import (
	"context"
	"sync"
	"time"
)

// Tier identifies how urgently the Channel's context pressure must be
// relieved.
type Tier string

const (
	TierNone      Tier = "none"
	TierSoft      Tier = "soft"
	TierHard      Tier = "hard"
	TierEmergency Tier = "emergency"
)

// Thresholds configures the size (in the same units as
// transcript.Ledger.EstimateSize) at which each tier engages.
type Thresholds struct {
	Soft      int
	Hard      int
	Emergency int
}

// CompactFunc performs the actual compaction for the given tier and
// returns the summary text to fold into history. It is supplied by the
// Channel that owns the ledger being compacted, since only Channel can
// safely mutate its own history.
type CompactFunc func(ctx context.Context, tier Tier) (summary string, err error)

// Compactor runs a single Channel's compaction policy: checking context
// size, deciding a tier, and invoking CompactFunc no more often than
// cooldown allows per tier, mirroring MemoryCache's refreshCooldown.
type Compactor struct {
	thresholds Thresholds
	cooldown   time.Duration
	compact    CompactFunc

	mu       sync.Mutex
	lastRun  map[Tier]time.Time
	running  bool
}

// New returns a Compactor for one Channel.
func New(thresholds Thresholds, cooldown time.Duration, compact CompactFunc) *Compactor {
	return &Compactor{
		thresholds: thresholds,
		cooldown:   cooldown,
		compact:    compact,
		lastRun:    make(map[Tier]time.Time),
	}
}

// Thresholds returns the tier thresholds this Compactor was configured
// with, so a caller building the emergency-truncation loop can drop
// turns until size falls back under the hard threshold.
func (c *Compactor) Thresholds() Thresholds { return c.thresholds }

// Tier classifies a context size against the configured thresholds.
func (c *Compactor) Tier(size int) Tier {
	switch {
	case c.thresholds.Emergency > 0 && size >= c.thresholds.Emergency:
		return TierEmergency
	case c.thresholds.Hard > 0 && size >= c.thresholds.Hard:
		return TierHard
	case c.thresholds.Soft > 0 && size >= c.thresholds.Soft:
		return TierSoft
	default:
		return TierNone
	}
}

// Check evaluates the current context size and, if a tier's cooldown has
// elapsed, runs compaction for it. Emergency-tier checks ignore the
// cooldown: if the Channel is in emergency pressure, the Compactor must
// act immediately regardless of how recently it last ran.
func (c *Compactor) Check(ctx context.Context, size int) (Tier, error) {
	tier := c.Tier(size)
	if tier == TierNone {
		return tier, nil
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return tier, nil
	}
	if tier != TierEmergency {
		if last, ok := c.lastRun[tier]; ok && time.Since(last) < c.cooldown {
			c.mu.Unlock()
			return tier, nil
		}
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.lastRun[tier] = time.Now()
		c.mu.Unlock()
	}()

	if _, err := c.compact(ctx, tier); err != nil {
		return tier, err
	}
	return tier, nil
}

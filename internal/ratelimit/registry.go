// Package ratelimit implements the per-IP token-bucket rate limiter and
// ban registry described in the admission pipeline's spec: a sharded,
// concurrent map of per-IP state with time-proportional refill, a
// violation counter, and time-based bans.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"admission-proxy/internal/clock"
)

// Outcome is the result of an admission check for one IP.
type Outcome int

const (
	Admitted Outcome = iota
	RateLimited
	Banned
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case RateLimited:
		return "rate_limited"
	case Banned:
		return "banned"
	default:
		return "unknown"
	}
}

// Config controls the registry's bucket size, refill rate, and ban policy.
type Config struct {
	// RPM is the steady-state refill rate, in tokens per minute.
	RPM float64
	// Burst is the maximum (and initial) token count per IP.
	Burst int
	// ViolationThreshold is the number of RateLimited outcomes since the
	// last ban that install a ban; admitted requests do not reset the
	// count. Fixed at 3 by the spec.
	ViolationThreshold int
	// BanDuration is how long an installed ban lasts. Fixed at 3600s
	// by the spec.
	BanDuration time.Duration
	// CleanupInterval controls how often the background sweeper reaps
	// stale entries. Zero disables the sweeper (lazy reaping only).
	CleanupInterval time.Duration
	// MaxEntries bounds the registry's size via LRU eviction on
	// last-refill time. Zero means unbounded. Entries with an active
	// ban are never evicted regardless of this cap.
	MaxEntries int
}

// DefaultConfig returns the spec's fixed defaults (rpm=40, burst=20,
// threshold=3, ban=3600s) with a 1-minute sweep interval.
func DefaultConfig() Config {
	return Config{
		RPM:                40,
		Burst:              20,
		ViolationThreshold: 3,
		BanDuration:        time.Hour,
		CleanupInterval:    time.Minute,
	}
}

type entry struct {
	mu          sync.Mutex
	tokens      float64
	lastRefill  time.Time
	violations  int
	bannedUntil time.Time // zero value means "no ban"
}

const shardCount = 32

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Registry is the sharded per-IP rate limiter and ban tracker. Distinct
// IPs never contend on the same shard lock except on hash collision;
// requests from the same IP serialize on that entry's own lock.
type Registry struct {
	cfg     Config
	clock   clock.Clock
	shards  [shardCount]*shard
	closeCh chan struct{}
	once    sync.Once
}

// New creates a Registry. If cfg.CleanupInterval > 0, a background
// sweeper goroutine starts immediately; call Close to stop it.
func New(cfg Config, c clock.Clock) *Registry {
	r := &Registry{
		cfg:     cfg,
		clock:   c,
		closeCh: make(chan struct{}),
	}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	if cfg.CleanupInterval > 0 {
		go r.sweep()
	}
	return r
}

// Close stops the background sweeper, if any.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.closeCh) })
}

// Check runs the admission algorithm for ip and returns the outcome.
//
//  1. Load/create the entry (new entries start full: tokens = burst).
//  2. If banned and ban not yet expired -> Banned.
//  3. If banned and expired -> clear the ban.
//  4. Refill tokens proportionally to elapsed time, capped at burst.
//  5. If tokens >= 1, consume one and return Admitted.
//  6. Otherwise increment violations; at threshold, install a ban and
//     reset violations; return RateLimited either way.
func (r *Registry) Check(ip string) Outcome {
	e := r.entryFor(ip)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := r.clock.Now()

	if !e.bannedUntil.IsZero() {
		if now.Before(e.bannedUntil) {
			return Banned
		}
		e.bannedUntil = time.Time{}
	}

	r.refillLocked(e, now)

	if e.tokens >= 1 {
		e.tokens--
		return Admitted
	}

	e.violations++
	if e.violations >= r.cfg.ViolationThreshold {
		e.bannedUntil = now.Add(r.cfg.BanDuration)
		e.violations = 0
		slog.Warn("ip banned",
			"ip", ip,
			"ban_duration", r.cfg.BanDuration,
		)
	}
	return RateLimited
}

// refillLocked adds Δt·rpm/60 tokens, capped at burst. Caller must hold e.mu.
func (r *Registry) refillLocked(e *entry, now time.Time) {
	elapsed := now.Sub(e.lastRefill).Seconds()
	if elapsed > 0 {
		e.tokens += elapsed * r.cfg.RPM / 60
		burst := float64(r.cfg.Burst)
		if e.tokens > burst {
			e.tokens = burst
		}
	}
	e.lastRefill = now
}

func (r *Registry) entryFor(ip string) *entry {
	sh := r.shards[shardIndex(ip)]

	sh.mu.Lock()
	e, ok := sh.entries[ip]
	if !ok {
		e = &entry{tokens: float64(r.cfg.Burst), lastRefill: r.clock.Now()}
		sh.entries[ip] = e
		r.evictIfNeededLocked(sh)
	}
	sh.mu.Unlock()

	return e
}

// evictIfNeededLocked enforces MaxEntries (per shard, spread evenly)
// by evicting the least-recently-refilled unbanned entry. Caller must
// hold sh.mu.
func (r *Registry) evictIfNeededLocked(sh *shard) {
	if r.cfg.MaxEntries <= 0 {
		return
	}
	perShardCap := r.cfg.MaxEntries/shardCount + 1
	if len(sh.entries) <= perShardCap {
		return
	}

	var oldestIP string
	var oldestTime time.Time
	for ip, e := range sh.entries {
		e.mu.Lock()
		banned := !e.bannedUntil.IsZero() && r.clock.Now().Before(e.bannedUntil)
		last := e.lastRefill
		e.mu.Unlock()
		if banned {
			continue
		}
		if oldestIP == "" || last.Before(oldestTime) {
			oldestIP, oldestTime = ip, last
		}
	}
	if oldestIP != "" {
		delete(sh.entries, oldestIP)
	}
}

// sweep periodically reaps entries whose bucket has been full for longer
// than one refill window and that carry no active ban, bounding memory
// without waiting for the next access.
func (r *Registry) sweep() {
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	refillWindow := time.Duration(0)
	if r.cfg.RPM > 0 {
		refillWindow = time.Duration(float64(time.Minute) * float64(r.cfg.Burst) / r.cfg.RPM)
	}

	for {
		select {
		case <-r.closeCh:
			return
		case <-ticker.C:
			now := r.clock.Now()
			for _, sh := range r.shards {
				sh.mu.Lock()
				for ip, e := range sh.entries {
					e.mu.Lock()
					banned := !e.bannedUntil.IsZero() && now.Before(e.bannedUntil)
					// Tokens refill lazily on access, so project when
					// the bucket became full from the stored count.
					full := e.tokens >= float64(r.cfg.Burst)
					fullAt := e.lastRefill
					if !full && r.cfg.RPM > 0 {
						missing := float64(r.cfg.Burst) - e.tokens
						fullAt = fullAt.Add(time.Duration(missing * 60 / r.cfg.RPM * float64(time.Second)))
						full = true
					}
					stale := now.Sub(fullAt) > refillWindow
					e.mu.Unlock()
					if !banned && full && stale {
						delete(sh.entries, ip)
					}
				}
				sh.mu.Unlock()
			}
		}
	}
}

// Size returns the total number of tracked IPs, across all shards.
// Intended for metrics/gauges, not for hot-path decisions.
func (r *Registry) Size() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

func shardIndex(ip string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(ip); i++ {
		h ^= uint32(ip[i])
		h *= 16777619
	}
	return h % shardCount
}

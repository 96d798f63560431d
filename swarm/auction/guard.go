package auction

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// GuardConfig bounds how fast a single bidder may submit bids.
type GuardConfig struct {
	BidsPerSecond float64       `json:"bids_per_second" yaml:"bids_per_second"`
	Burst         int           `json:"burst" yaml:"burst"`
	IdleTTL       time.Duration `json:"idle_ttl" yaml:"idle_ttl"`
}

// DefaultGuardConfig allows short bursts and a sustained two bids per second.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{BidsPerSecond: 2, Burst: 5, IdleTTL: 10 * time.Minute}
}

type bidderLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Guard is a per-bidder token bucket.
type Guard struct {
	mu       sync.Mutex
	limiters map[string]*bidderLimiter
	config   GuardConfig
	now      func() time.Time
}

// NewGuard creates a guard.
func NewGuard(config GuardConfig) *Guard {
	return &Guard{
		limiters: make(map[string]*bidderLimiter),
		config:   config,
		now:      time.Now,
	}
}

// Allow consumes one token for bidderID.
func (g *Guard) Allow(bidderID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	bl, ok := g.limiters[bidderID]
	if !ok {
		bl = &bidderLimiter{limiter: rate.NewLimiter(rate.Limit(g.config.BidsPerSecond), g.config.Burst)}
		g.limiters[bidderID] = bl
	}
	bl.lastSeen = now
	return bl.limiter.AllowN(now, 1)
}

// Sweep drops limiters idle longer than IdleTTL.
func (g *Guard) Sweep() int {
	if g.config.IdleTTL <= 0 {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := g.now().Add(-g.config.IdleTTL)
	n := 0
	for id, bl := range g.limiters {
		if bl.lastSeen.Before(cutoff) {
			delete(g.limiters, id)
			n++
		}
	}
	return n
}

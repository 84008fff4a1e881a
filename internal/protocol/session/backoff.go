package session

import (
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay paces dial retries for engine sessions. Attempts are
// 1-based; the first retry waits the initial delay and later ones grow
// geometrically up to the configured ceiling.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	growth := math.Max(cfg.Multiplier, 1.0)
	d := float64(cfg.InitialDelay) * math.Pow(growth, float64(attempt-1))
	if limit := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && d > limit {
		d = limit
	}
	if cfg.Jitter {
		d *= jitterFactor(rng)
	}
	return time.Duration(d)
}

// jitterFactor spreads concurrent reconnects across [0.5, 1.5) of the
// computed delay. A nil source halves it.
func jitterFactor(rng *rand.Rand) float64 {
	if rng == nil {
		return 0.5
	}
	return 0.5 + rng.Float64()
}

package tasky

import (
	"math"
	"time"
)

type BackoffConfig struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

// BackoffExponential returns the delay before retry number attempts (1 based).
func BackoffExponential(cfg BackoffConfig) func(attempts int) time.Duration {
	factor := cfg.Factor
	if factor <= 0 {
		factor = 2
	}

	return func(attempts int) time.Duration {
		if attempts <= 0 || cfg.Base <= 0 {
			return 0
		}
		delay := float64(cfg.Base) * math.Pow(factor, float64(attempts-1))
		if cfg.Max > 0 && delay > float64(cfg.Max) {
			return cfg.Max
		}
		if delay > float64(math.MaxInt64) {
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(delay)
	}
}

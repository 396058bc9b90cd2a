package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	// jitterLow and jitterHigh bound the multiplicative jitter applied to
	// every computed delay (nominal * [0.75, 1.25)).
	jitterLow  = 0.75
	jitterHigh = 1.25
)

// NominalDelay returns the pre-jitter delay for a zero-based attempt:
// min(base * multiplier^attempt, max).
func NominalDelay(attempt int, base, max time.Duration, multiplier float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		return 0
	}
	if multiplier < 1 {
		multiplier = 1
	}

	d := float64(base) * math.Pow(multiplier, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(max) {
		return max
	}
	return time.Duration(d)
}

// CalculateDelay returns the delay to wait after the given zero-based attempt
// failed. The nominal delay is scaled by a uniform factor in [0.75, 1.25) so
// that callers failing at the same moment do not retry in lockstep. The result
// may exceed max by up to 25% and is never negative.
func CalculateDelay(attempt int, base, max time.Duration, multiplier float64) time.Duration {
	nominal := NominalDelay(attempt, base, max, multiplier)
	if nominal <= 0 {
		return 0
	}

	// #nosec G404 -- jitter does not need cryptographic randomness.
	factor := jitterLow + rand.Float64()*(jitterHigh-jitterLow)
	return time.Duration(float64(nominal) * factor)
}

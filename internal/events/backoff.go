package events

import (
	rand "math/rand/v2"
	"time"
)

// jitterBackoff implements decorrelated jitter backoff with a cap.
//
//	next = min(cap, base + rand(prev*multiplier - base))
//
// A non-positive prev starts from base, a multiplier below 1 means no growth
// and a cap below base returns the cap.
func jitterBackoff(prev, base time.Duration, mult float64, capDur time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if mult < 1.0 {
		mult = 1.0
	}
	if capDur > 0 && capDur < base {
		return capDur
	}
	if prev <= 0 {
		return base
	}

	spread := time.Duration(float64(prev)*mult) - base
	if spread <= 0 {
		spread = base
	}
	var jitter int64
	if rng != nil {
		jitter = rng.Int64N(int64(spread))
	} else {
		jitter = rand.Int64N(int64(spread)) //nolint:gosec // non-crypto backoff jitter
	}

	next := base + time.Duration(jitter)
	if capDur > 0 && next > capDur {
		return capDur
	}

	return next
}

// redeliveryDelay returns the NAK delay for the given delivery attempt.
func redeliveryDelay(delivered uint64, base, capDur time.Duration, rng *rand.Rand) time.Duration {
	var d time.Duration
	for range delivered {
		d = jitterBackoff(d, base, 2.0, capDur, rng)
	}

	return d
}

// newRetryRNG returns a deterministic RNG for a non-zero seed and nil
// otherwise, so callers fall back to the package-level PRNG.
//
//nolint:gosec
func newRetryRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)
	s2 := s1 ^ 0x9e3779b97f4a7c15

	return rand.New(rand.NewPCG(s1, s2))
}

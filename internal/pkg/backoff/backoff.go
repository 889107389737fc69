// Package backoff computes retry delays for workers and HTTP clients.
// Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Strategy returns how long to wait before retry attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Exponential doubles the delay each attempt: min(Base * 2^(n-1), Max).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// Delay implements Strategy.
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		d = float64(e.Max)
	}
	return time.Duration(d)
}

// Jittered applies full jitter to an exponential base with a floor, so a
// burst of failures does not retry in lockstep.
type Jittered struct {
	Base time.Duration
	Max  time.Duration
	Min  time.Duration
}

// Delay implements Strategy.
func (j Jittered) Delay(attempt int) time.Duration {
	ceiling := Exponential{Base: j.Base, Max: j.Max}.Delay(attempt)
	d := time.Duration(rand.Float64() * float64(ceiling))
	if d < j.Min {
		d = j.Min
	}
	return d
}

// Default is the strategy used for message and webhook retries: 30s base,
// capped at one hour, never below 5s.
func Default() Strategy {
	return Jittered{Base: 30 * time.Second, Max: time.Hour, Min: 5 * time.Second}
}

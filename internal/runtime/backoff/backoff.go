// Package backoff computes reconnect delays using capped exponential backoff
// with jitter, following
// https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/.
package backoff

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultBase is the growth step between attempts.
	DefaultBase = 300 * time.Millisecond
	// DefaultCap bounds the pre-jitter delay.
	DefaultCap = 15 * time.Second
)

// Calculator holds the backoff parameters. The zero value uses DefaultBase,
// DefaultCap and the global random source.
type Calculator struct {
	Base time.Duration
	Cap  time.Duration
	// Rand returns a value in [0, 1). Tests pin it to make delays deterministic.
	Rand func() float64
}

// Delay returns the wait before the given 1-based attempt:
//
//	temp  = min(Cap, Base * 2 * (attempt - 1))
//	delay = temp/2 + rand[0, temp)
//
// so the result lies in [temp/2, temp*1.5). The first attempt is immediate.
func (c Calculator) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	base, limit := c.Base, c.Cap
	if base <= 0 {
		base = DefaultBase
	}
	if limit <= 0 {
		limit = DefaultCap
	}
	random := c.Rand
	if random == nil {
		random = rand.Float64
	}

	temp := limit
	// Guard the multiplication so huge attempt counts cannot overflow.
	if steps := int64(attempt - 1); steps < int64(limit/(2*base))+1 {
		temp = min(limit, base*2*time.Duration(steps))
	}

	return temp/2 + time.Duration(random()*float64(temp))
}

// Max is the largest delay Delay can return (exclusive).
func (c Calculator) Max() time.Duration {
	limit := c.Cap
	if limit <= 0 {
		limit = DefaultCap
	}
	return limit + limit/2
}

var defaultCalculator = Calculator{}

// Delay uses the default 300ms base and 15s cap.
func Delay(attempt int) time.Duration {
	return defaultCalculator.Delay(attempt)
}

// Package ratelimit gates how often any single account may post.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AccountGate enforces a minimum interval between posts per account. Allow is
// non-blocking: a gated job goes back on the queue instead of holding a
// worker slot.
type AccountGate struct {
	minInterval time.Duration
	burst       int

	limiters sync.Map // account id -> *rate.Limiter
}

// NewAccountGate builds a gate. A zero or negative interval disables gating.
func NewAccountGate(minInterval time.Duration) *AccountGate {
	return &AccountGate{minInterval: minInterval, burst: 1}
}

// Allow reports whether the account may post now, consuming a token when it
// may. Disabled gates always allow.
func (g *AccountGate) Allow(accountID string) bool {
	if g == nil || g.minInterval <= 0 {
		return true
	}
	return g.limiterFor(accountID).Allow()
}

func (g *AccountGate) limiterFor(accountID string) *rate.Limiter {
	val, _ := g.limiters.LoadOrStore(accountID, rate.NewLimiter(rate.Every(g.minInterval), g.burst))
	return val.(*rate.Limiter)
}

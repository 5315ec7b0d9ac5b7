package ratelimit

import (
	"math"
	"sync"
	"time"
)

// One token is stored as 1e9 nano-tokens, so a rate of N tokens/sec adds
// exactly N nano-tokens per elapsed nanosecond.
const nanoPerToken = int64(time.Second)

// TokenBucket refills at an integer tokens/sec rate up to a fixed burst.
// A bucket with a non-positive rate or burst never refills once drained.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	burst int64 // nano-tokens
	rate  int64 // tokens/sec == nano-tokens/ns

	avail int64 // nano-tokens
	last  time.Time
}

func NewTokenBucket(clock Clock, burstTokens, tokensPerSecond int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	burst := toNano(burstTokens)
	return &TokenBucket{
		clock: clock,
		burst: burst,
		rate:  max(tokensPerSecond, 0),
		avail: burst,
		last:  clock.Now(),
	}
}

// Allow takes n tokens if they are available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.avail < cost {
		return false
	}
	b.avail -= cost
	return true
}

func (b *TokenBucket) refill() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	if elapsed <= 0 || b.rate == 0 || b.avail >= b.burst {
		// A clock that moved backwards only resets the reference point.
		return
	}

	missing := b.burst - b.avail
	if elapsed >= missing/b.rate {
		b.avail = b.burst
		return
	}
	b.avail = min(b.avail+elapsed*b.rate, b.burst)
}

func toNano(tokens int64) int64 {
	switch {
	case tokens <= 0:
		return 0
	case tokens > math.MaxInt64/nanoPerToken:
		return math.MaxInt64
	default:
		return tokens * nanoPerToken
	}
}

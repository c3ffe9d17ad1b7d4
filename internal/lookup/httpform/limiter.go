package httpform

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// adaptiveLimiter is shared by every session of one Opener. A 429 halves the
// rate down to a quarter of the initial value; each success raises it by a
// fifth up to the initial value.
type adaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	initial rate.Limit
	floor   rate.Limit
	current rate.Limit
}

func newAdaptiveLimiter(perSec float64) *adaptiveLimiter {
	if perSec <= 0 {
		return &adaptiveLimiter{limiter: rate.NewLimiter(rate.Inf, 1), initial: rate.Inf, current: rate.Inf}
	}
	r := rate.Limit(perSec)
	return &adaptiveLimiter{
		limiter: rate.NewLimiter(r, 1),
		initial: r,
		floor:   r / 4,
		current: r,
	}
}

func (a *adaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

func (a *adaptiveLimiter) onSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current >= a.initial {
		return
	}
	a.current = min(a.current*1.2, a.initial)
	a.limiter.SetLimit(a.current)
}

func (a *adaptiveLimiter) onThrottled() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initial == rate.Inf {
		return
	}
	a.current = max(a.current*0.5, a.floor)
	a.limiter.SetLimit(a.current)
	zap.L().Warn("httpform: lookup throttled, reducing rate",
		zap.Float64("new_rate", float64(a.current)),
	)
}

func (a *adaptiveLimiter) limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

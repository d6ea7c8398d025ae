package ctrl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/calque-ai/guidebot/pkg/calque"
)

// limiter is a token bucket shared by every request through one RateLimit.
type limiter struct {
	mu       sync.Mutex
	tokens   int
	capacity int
	interval time.Duration // time to earn one token
	last     time.Time
}

// RateLimit lets at most rate calls of handler start per period, blocking
// callers until a token is free or their context ends. Use it to stay under
// a hosted model's request quota.
//
//	agent := ctrl.RateLimit(ai.Agent(client), 60, time.Minute)
func RateLimit(handler calque.Handler, rate int, per time.Duration) calque.Handler {
	if rate <= 0 || per <= 0 {
		return calque.HandlerFunc(func(r *calque.Request, _ *calque.Response) error {
			return calque.NewErr(r.Context, fmt.Sprintf("invalid rate limit: %d per %v", rate, per))
		})
	}

	l := &limiter{
		tokens:   rate,
		capacity: rate,
		interval: per / time.Duration(rate),
		last:     time.Now(),
	}

	return calque.HandlerFunc(func(r *calque.Request, w *calque.Response) error {
		if err := l.wait(r.Context); err != nil {
			return calque.WrapErr(r.Context, err, "rate limit wait failed")
		}
		return handler.ServeFlow(r, w)
	})
}

func (l *limiter) wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refill(time.Now())
		if l.tokens > 0 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		delay := time.Until(l.last.Add(l.interval))
		l.mu.Unlock()

		if delay <= 0 {
			delay = time.Millisecond
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *limiter) refill(now time.Time) {
	earned := int(now.Sub(l.last) / l.interval)
	if earned <= 0 {
		return
	}
	l.tokens = min(l.tokens+earned, l.capacity)
	l.last = l.last.Add(time.Duration(earned) * l.interval)
}

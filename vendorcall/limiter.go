package vendorcall

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// limiterSet keeps one token bucket per tenant:vendor key. A zero rate
// disables limiting.
type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newLimiterSet(perSecond float64, burst int) *limiterSet {
	if burst < 1 {
		burst = 1
	}
	return &limiterSet{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: map[string]*rate.Limiter{},
	}
}

func (s *limiterSet) Wait(ctx context.Context, key string) error {
	if s == nil || s.limit <= 0 {
		return nil
	}
	return s.get(key).Wait(ctx)
}

func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(s.limit, s.burst)
		s.limiters[key] = limiter
	}
	return limiter
}

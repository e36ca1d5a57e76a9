package infrastructure

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter is a per-host token bucket with a cooldown that 429
// responses can extend. Workers touch it only through Acquire and Pause.
type HostLimiter struct {
	mu     sync.Mutex
	hosts  map[string]*hostBucket
	limit  rate.Limit
	burst  int
	now    func() time.Time
	sleepf func(ctx context.Context, d time.Duration) error
}

type hostBucket struct {
	limiter     *rate.Limiter
	pausedUntil time.Time
}

// NewHostLimiter creates a limiter allowing perSecond requests per host.
// A non-positive rate disables throttling.
func NewHostLimiter(perSecond float64, burst int) *HostLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &HostLimiter{
		hosts:  make(map[string]*hostBucket),
		limit:  limit,
		burst:  burst,
		now:    time.Now,
		sleepf: sleepCtx,
	}
}

func (l *HostLimiter) bucket(host string) *hostBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.hosts[host]
	if !ok {
		b = &hostBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.hosts[host] = b
	}
	return b
}

// Acquire blocks until host is out of cooldown and a token is available
func (l *HostLimiter) Acquire(ctx context.Context, host string) error {
	b := l.bucket(host)
	for {
		l.mu.Lock()
		wait := b.pausedUntil.Sub(l.now())
		l.mu.Unlock()
		if wait <= 0 {
			break
		}
		if err := l.sleepf(ctx, wait); err != nil {
			return err
		}
	}
	return b.limiter.Wait(ctx)
}

// Pause stops requests to host for d. Overlapping pauses keep the later deadline.
func (l *HostLimiter) Pause(host string, d time.Duration) {
	if d <= 0 {
		return
	}
	b := l.bucket(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	until := l.now().Add(d)
	if until.After(b.pausedUntil) {
		b.pausedUntil = until
	}
}

// PausedUntil returns the cooldown deadline of host
func (l *HostLimiter) PausedUntil(host string) time.Time {
	b := l.bucket(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	return b.pausedUntil
}

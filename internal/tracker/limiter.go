package tracker

import (
	"context"
	"sync"
	"time"
)

// DefaultPerSiteConcurrency bounds parallel renders against one site.
const DefaultPerSiteConcurrency = 2

// siteLimiter throttles renders per site so a batch full of one shop's
// items does not hammer it.
type siteLimiter struct {
	mu          sync.Mutex
	perSite     int
	delay       time.Duration
	semaphores  map[string]chan struct{}
	lastRequest map[string]time.Time
}

func newSiteLimiter(perSite int, delay time.Duration) *siteLimiter {
	return &siteLimiter{
		perSite:     perSite,
		delay:       delay,
		semaphores:  make(map[string]chan struct{}),
		lastRequest: make(map[string]time.Time),
	}
}

// acquire takes a slot for site, then waits out the minimum delay since the
// previous request to it.
func (sl *siteLimiter) acquire(ctx context.Context, site string) error {
	sl.mu.Lock()
	sem, ok := sl.semaphores[site]
	if !ok {
		sem = make(chan struct{}, sl.perSite)
		sl.semaphores[site] = sem
	}
	sl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if sl.delay <= 0 {
		return nil
	}
	sl.mu.Lock()
	last := sl.lastRequest[site]
	sl.mu.Unlock()
	if last.IsZero() {
		return nil
	}
	if wait := sl.delay - time.Since(last); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			<-sem
			return ctx.Err()
		}
	}
	return nil
}

// release frees the slot and records when site was last hit.
func (sl *siteLimiter) release(site string) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.lastRequest[site] = time.Now()
	if sem, ok := sl.semaphores[site]; ok {
		<-sem
	}
}

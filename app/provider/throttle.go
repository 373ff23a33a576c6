package provider

import (
	"context"
	"net/url"
	"sync"
	"time"
)

// Throttle spaces requests to the same host by a fixed delay.
type Throttle struct {
	delay time.Duration

	mu    sync.Mutex
	slots map[string]time.Time
}

func NewThrottle(delay time.Duration) *Throttle {
	return &Throttle{
		delay: delay,
		slots: make(map[string]time.Time),
	}
}

// Wait blocks until the host of rawURL may be contacted again. The slot is
// reserved before sleeping, so concurrent callers queue up behind each other.
func (t *Throttle) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)

	t.mu.Lock()
	now := time.Now()
	slot := now
	if last, ok := t.slots[host]; ok && t.delay > 0 {
		if next := last.Add(t.delay); next.After(now) {
			slot = next
		}
	}
	t.slots[host] = slot
	t.mu.Unlock()

	wait := slot.Sub(now)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

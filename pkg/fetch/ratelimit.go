package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Throttle enforces a minimum spacing of delay ± jitter between consecutive requests to the same host.
// The jitter is drawn uniformly from [-jitter, +jitter] for every wait.
type Throttle struct {
	delay  time.Duration
	jitter time.Duration

	mu          sync.Mutex
	lastRequest map[string]time.Time // host -> end of the last request
	randFloat   func() float64       // [0.0, 1.0)
	now         func() time.Time

	log *logrus.Entry
}

// NewThrottle creates a Throttle
func NewThrottle(delay, jitter time.Duration, log *logrus.Entry) *Throttle {
	if jitter < 0 {
		jitter = 0
	}
	return &Throttle{
		delay:       delay,
		jitter:      jitter,
		lastRequest: make(map[string]time.Time),
		randFloat:   rand.Float64,
		now:         time.Now,
		log:         log,
	}
}

// MinSpacing is the smallest gap Wait can produce
func (t *Throttle) MinSpacing() time.Duration {
	if d := t.delay - t.jitter; d > 0 {
		return d
	}
	return 0
}

// spacing draws the gap required before the next request
func (t *Throttle) spacing() time.Duration {
	d := t.delay
	if t.jitter > 0 {
		d += time.Duration((2*t.randFloat() - 1) * float64(t.jitter))
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Wait blocks until the host may be contacted again, or ctx is done.
// The first request to a host is not delayed.
func (t *Throttle) Wait(ctx context.Context, host string) error {
	t.mu.Lock()
	last, exists := t.lastRequest[host]
	required := t.spacing()
	t.mu.Unlock()

	if !exists {
		return ctx.Err()
	}
	elapsed := t.now().Sub(last)
	if elapsed >= required {
		return ctx.Err()
	}
	sleep := required - elapsed

	t.log.WithFields(logrus.Fields{
		"host": host, "sleep": sleep, "required_delay": required, "elapsed": elapsed,
	}).Debug("Throttle applying sleep")

	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarkRequest records the current time as the end of a request to host.
// Call this after every attempt, successful or not.
func (t *Throttle) MarkRequest(host string) {
	t.mu.Lock()
	t.lastRequest[host] = t.now()
	t.mu.Unlock()
}

package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestThrottle(delay, jitter time.Duration) *Throttle {
	return NewThrottle(delay, jitter, testLogger())
}

func TestThrottle_FirstRequestNotDelayed(t *testing.T) {
	th := newTestThrottle(5*time.Second, 0)

	start := time.Now()
	err := th.Wait(context.Background(), "www.hasznaltauto.hu")
	assert.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestThrottle_WaitsForSpacing(t *testing.T) {
	th := newTestThrottle(80*time.Millisecond, 0)
	host := "www.hasznaltauto.hu"
	th.MarkRequest(host)

	start := time.Now()
	assert.NoError(t, th.Wait(context.Background(), host))
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestThrottle_HostsAreIndependent(t *testing.T) {
	th := newTestThrottle(5*time.Second, 0)
	th.MarkRequest("a.example")

	start := time.Now()
	assert.NoError(t, th.Wait(context.Background(), "b.example"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestThrottle_RespectsContextCancellation(t *testing.T) {
	th := newTestThrottle(5*time.Second, 0)
	host := "example.com"

	// Simulate a recent request so delay is needed
	th.MarkRequest(host)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // pre-cancel

	start := time.Now()
	err := th.Wait(ctx, host)
	elapsed := time.Since(start)

	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("Wait should return immediately on cancelled context, took %v", elapsed)
	}
}

func TestThrottle_CancelMidWait(t *testing.T) {
	th := newTestThrottle(5*time.Second, 0)
	host := "example.com"
	th.MarkRequest(host)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := th.Wait(ctx, host)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestThrottle_SpacingBounds(t *testing.T) {
	th := newTestThrottle(time.Second, 300*time.Millisecond)

	tests := []struct {
		r    float64
		want time.Duration
	}{
		{0.0, 700 * time.Millisecond},
		{0.5, time.Second},
		{0.999999, 1300 * time.Millisecond},
	}
	for _, tt := range tests {
		th.randFloat = func() float64 { return tt.r }
		got := th.spacing()
		assert.InDelta(t, float64(tt.want), float64(got), float64(time.Millisecond), "r=%v", tt.r)
	}
	assert.Equal(t, 700*time.Millisecond, th.MinSpacing())
}

func TestThrottle_SpacingNeverNegative(t *testing.T) {
	th := newTestThrottle(100*time.Millisecond, 500*time.Millisecond)
	th.randFloat = func() float64 { return 0 }

	assert.Equal(t, time.Duration(0), th.spacing())
	assert.Equal(t, time.Duration(0), th.MinSpacing())
}

func TestThrottle_NegativeJitterIgnored(t *testing.T) {
	th := newTestThrottle(time.Second, -time.Second)
	assert.Equal(t, time.Second, th.spacing())
}

func TestThrottle_UsesClock(t *testing.T) {
	th := newTestThrottle(time.Second, 0)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return base }
	th.MarkRequest("example.com")

	// Pretend the full delay has already elapsed
	th.now = func() time.Time { return base.Add(2 * time.Second) }

	start := time.Now()
	assert.NoError(t, th.Wait(context.Background(), "example.com"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

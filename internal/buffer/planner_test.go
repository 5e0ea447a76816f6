package buffer

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu       sync.Mutex
	position time.Duration
	duration time.Duration
}

func (f *fakeClock) Position() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

func (f *fakeClock) Duration() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration
}

func newTestPlanner(t *testing.T) *Planner {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	p := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	t.Cleanup(p.Stop)
	return p
}

func TestPlanner_TargetFromPredictedSpeed(t *testing.T) {
	p := newTestPlanner(t)
	assert.Equal(t, 30*time.Second, p.TargetFor(0, 0), "no samples")
	assert.Equal(t, 30*time.Second, p.TargetFor(1_000_000, 3))
	assert.Equal(t, 20*time.Second, p.TargetFor(999_999, 3))
	assert.Equal(t, 20*time.Second, p.TargetFor(500_000, 3))
	assert.Equal(t, 5*time.Second, p.TargetFor(499_999, 3))
}

func TestPlanner_EvaluateBeforeStart(t *testing.T) {
	p := newTestPlanner(t)
	assert.Equal(t, Snapshot{}, p.Evaluate())
}

func TestPlanner_RequestsOnceWhileBuffering(t *testing.T) {
	p := newTestPlanner(t)
	clock := &fakeClock{position: 10 * time.Second, duration: 10 * time.Minute}
	var requests []time.Duration
	p.Start(clock.Position, clock.Duration, func(target time.Duration) {
		requests = append(requests, target)
	})
	for i := 0; i < 10; i++ {
		p.UpdateNetworkSpeed(600_000)
	}
	p.ReportBufferedAhead(4 * time.Second)

	snap := p.Evaluate()
	assert.True(t, snap.Buffering)
	assert.Equal(t, 20*time.Second, snap.Target)
	assert.Equal(t, 4*time.Second, snap.Ahead)
	assert.InDelta(t, 600_000, snap.PredictedSpeed, 1e-6)

	p.Evaluate()
	p.Evaluate()
	require.Len(t, requests, 1)
	assert.Equal(t, 20*time.Second, requests[0])
}

func TestPlanner_ClearsBufferingWhenFilled(t *testing.T) {
	p := newTestPlanner(t)
	clock := &fakeClock{duration: 10 * time.Minute}
	requests := 0
	p.Start(clock.Position, clock.Duration, func(time.Duration) { requests++ })

	p.ReportBufferedAhead(time.Second)
	require.True(t, p.Evaluate().Buffering)

	p.ReportBufferedAhead(61 * time.Second)
	assert.False(t, p.Evaluate().Buffering)

	p.ReportBufferedAhead(2 * time.Second)
	assert.True(t, p.Evaluate().Buffering)
	assert.Equal(t, 2, requests)
}

func TestPlanner_AheadCappedByRemaining(t *testing.T) {
	p := newTestPlanner(t)
	clock := &fakeClock{position: 55 * time.Second, duration: time.Minute}
	requests := 0
	p.Start(clock.Position, clock.Duration, func(time.Duration) { requests++ })

	snap := p.Evaluate()
	assert.Equal(t, 5*time.Second, snap.Ahead)
	assert.False(t, snap.Buffering, "rest of the media is already available")
	assert.Zero(t, requests)
}

func TestPlanner_IgnoresInvalidSpeeds(t *testing.T) {
	p := newTestPlanner(t)
	p.UpdateNetworkSpeed(-5)
	assert.Zero(t, p.PredictedSpeed())
	p.UpdateNetworkSpeed(100)
	p.UpdateNetworkSpeed(400)
	// weights 1 and 2
	assert.InDelta(t, 300, p.PredictedSpeed(), 1e-9)
}

func TestPlanner_PublishesSnapshots(t *testing.T) {
	p := newTestPlanner(t)
	clock := &fakeClock{position: time.Second, duration: time.Minute}
	var got []Snapshot
	p.OnSnapshot(func(s Snapshot) { got = append(got, s) })
	p.Start(clock.Position, clock.Duration, nil)

	p.Evaluate()
	require.Len(t, got, 1)
	assert.Equal(t, time.Second, got[0].Position)
	assert.Equal(t, got[0], p.Snapshot())
}

func TestPlanner_StopIsIdempotent(t *testing.T) {
	p := newTestPlanner(t)
	clock := &fakeClock{}
	p.Start(clock.Position, clock.Duration, nil)
	p.Stop()
	p.Stop()
}

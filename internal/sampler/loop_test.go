package sampler

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"codeberg.org/mutker/anglepub/internal/adc"
	"codeberg.org/mutker/anglepub/internal/logger"
	"codeberg.org/mutker/anglepub/internal/publish"
	"codeberg.org/mutker/anglepub/internal/sample"
	"codeberg.org/mutker/anglepub/internal/telemetry"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var loopStart = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type loopHarness struct {
	t      *testing.T
	clock  clockwork.FakeClock
	dev    *adc.Fake
	ctrl   *Controller
	broker *publish.Broker
	sub    *publish.Subscription
	stats  telemetry.Collector
	loop   *Loop
	cancel context.CancelFunc
	done   chan error
}

func newLoopHarness(t *testing.T, hz float64, fast bool, reader func(*adc.Fake, clockwork.FakeClock) Reader) *loopHarness {
	t.Helper()

	h := &loopHarness{
		t:      t,
		clock:  clockwork.NewFakeClockAt(loopStart),
		dev:    newFakeDevice(t, 100, 200, 300),
		ctrl:   newTestController(t, hz, fast),
		broker: publish.NewBroker("", discardLogger()),
		stats:  telemetry.NewCollector(),
		done:   make(chan error, 1),
	}

	var r Reader = h.dev
	if reader != nil {
		r = reader(h.dev, h.clock)
	}

	var err error
	h.sub, err = h.broker.Subscribe()
	require.NoError(t, err)

	h.loop = NewLoop(
		NewPolicy(r, DefaultChannels(), testReference),
		h.ctrl,
		h.broker,
		logger.NewWithWriter(io.Discard, "loop"),
		WithClock(h.clock),
		WithCollector(h.stats),
	)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.loop.Run(ctx) }()

	h.clock.BlockUntil(1)
	t.Cleanup(h.stop)

	return h
}

// tick advances the clock by d and waits until the loop has re-armed.
func (h *loopHarness) tick(d time.Duration) {
	h.t.Helper()
	h.clock.Advance(d)
	h.clock.BlockUntil(1)
}

func (h *loopHarness) published() (sample.Sample, bool) {
	select {
	case s := <-h.sub.C():
		return s, true
	default:
		return sample.Sample{}, false
	}
}

func (h *loopHarness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case err := <-h.done:
		assert.NoError(h.t, err)
	case <-time.After(2 * time.Second):
		h.t.Fatal("sampling loop did not stop")
	}
}

func TestLoopPublishesOneSamplePerTick(t *testing.T) {
	h := newLoopHarness(t, 10, false, nil)

	_, ok := h.published()
	assert.False(t, ok, "nothing before the first tick")

	h.tick(100 * time.Millisecond)

	s, ok := h.published()
	require.True(t, ok)
	assert.Equal(t, sample.Sample{
		Primary:   100,
		Secondary: 200,
		Reference: 300,
		Timestamp: loopStart.Add(100 * time.Millisecond),
	}, s)
	assert.Equal(t, []int{0, 1, 2}, h.dev.Reads())
	assert.Equal(t, Idle, h.loop.State())

	stats := h.stats.Snapshot()
	assert.EqualValues(t, 1, stats.Cycles)
	assert.EqualValues(t, 1, stats.Published)
	assert.EqualValues(t, 3, stats.DeviceReads)
}

func TestLoopDoesNotFireEarly(t *testing.T) {
	h := newLoopHarness(t, 10, false, nil)

	h.clock.Advance(99 * time.Millisecond)
	h.clock.BlockUntil(1)
	assert.Empty(t, h.dev.Reads())
	assert.EqualValues(t, 0, h.stats.Snapshot().Cycles)

	h.tick(time.Millisecond)
	assert.Len(t, h.dev.Reads(), 3)
}

func TestLoopFastModeToggle(t *testing.T) {
	h := newLoopHarness(t, 10, false, nil)

	h.tick(100 * time.Millisecond)
	s, ok := h.published()
	require.True(t, ok)
	assert.Equal(t, 300.0, s.Reference)
	assert.False(t, s.FastMode)

	require.NoError(t, h.ctrl.Apply(Update{FastMode: boolean(true)}))
	h.dev.ResetReads()
	h.dev.FailChannel(2, fmt.Errorf("reference channel must not be read"))

	h.tick(100 * time.Millisecond)
	s, ok = h.published()
	require.True(t, ok)
	assert.Equal(t, []int{0, 1}, h.dev.Reads())
	assert.Equal(t, testReference, s.Reference)
	assert.True(t, s.FastMode)
}

func TestLoopSuppressesFailedCycles(t *testing.T) {
	h := newLoopHarness(t, 10, false, nil)

	h.dev.FailChannel(1, fmt.Errorf("i2c: remote I/O error"))
	h.tick(100 * time.Millisecond)

	_, ok := h.published()
	assert.False(t, ok, "failed cycle must not publish")
	_, latched := h.broker.Latest()
	assert.False(t, latched)

	stats := h.stats.Snapshot()
	assert.EqualValues(t, 1, stats.Suppressed)
	assert.Equal(t, "device_read_failed", stats.LastErrorCode)

	// the loop keeps its schedule and recovers on the next tick
	h.dev.ClearFailures()
	h.tick(100 * time.Millisecond)
	s, ok := h.published()
	require.True(t, ok)
	assert.Equal(t, loopStart.Add(200*time.Millisecond), s.Timestamp)
	assert.EqualValues(t, 1, h.stats.Snapshot().Published)
}

func TestLoopSuppressesFastModeFailures(t *testing.T) {
	h := newLoopHarness(t, 10, true, nil)

	h.dev.FailChannel(0, fmt.Errorf("bus busy"))
	h.tick(100 * time.Millisecond)

	_, ok := h.published()
	assert.False(t, ok)
	assert.Equal(t, []int{0}, h.dev.Reads())
}

func TestLoopAppliesNewFrequencyOnNextCycle(t *testing.T) {
	h := newLoopHarness(t, 10, false, nil)

	h.tick(100 * time.Millisecond)
	require.NoError(t, h.ctrl.Apply(Update{FrequencyHz: float(20)}))

	// the timer armed before the update keeps its deadline
	h.tick(100 * time.Millisecond)
	s, ok := h.published()
	require.True(t, ok)
	assert.Equal(t, loopStart.Add(200*time.Millisecond), s.Timestamp)

	h.tick(50 * time.Millisecond)
	s, ok = h.published()
	require.True(t, ok)
	assert.Equal(t, loopStart.Add(250*time.Millisecond), s.Timestamp)
}

func TestLoopKeepsScheduleOnRejectedFrequency(t *testing.T) {
	h := newLoopHarness(t, 10, false, nil)

	require.Error(t, h.ctrl.Apply(Update{FrequencyHz: float(-5)}))
	assert.Equal(t, 100*time.Millisecond, h.ctrl.Snapshot().Period)

	for i := 1; i <= 3; i++ {
		h.tick(100 * time.Millisecond)
		s, ok := h.published()
		require.True(t, ok)
		assert.Equal(t, loopStart.Add(time.Duration(i)*100*time.Millisecond), s.Timestamp)
	}
}

type slowReader struct {
	dev   *adc.Fake
	clock clockwork.FakeClock
	delay time.Duration
}

func (r *slowReader) ReadChannel(channel int) (int32, error) {
	r.clock.Advance(r.delay)
	return r.dev.ReadChannel(channel)
}

func TestLoopDoesNotDrift(t *testing.T) {
	h := newLoopHarness(t, 10, false, func(dev *adc.Fake, clock clockwork.FakeClock) Reader {
		return &slowReader{dev: dev, clock: clock, delay: 10 * time.Millisecond}
	})

	// each cycle spends 30ms reading; ticks stay on the 100ms grid
	h.tick(100 * time.Millisecond)
	s, ok := h.published()
	require.True(t, ok)
	assert.Equal(t, loopStart.Add(130*time.Millisecond), s.Timestamp)

	h.tick(70 * time.Millisecond)
	s, ok = h.published()
	require.True(t, ok)
	assert.Equal(t, loopStart.Add(230*time.Millisecond), s.Timestamp)
	assert.EqualValues(t, 0, h.stats.Snapshot().Overruns)
}

func TestLoopResetsScheduleAfterOverrun(t *testing.T) {
	h := newLoopHarness(t, 10, false, func(dev *adc.Fake, clock clockwork.FakeClock) Reader {
		return &slowReader{dev: dev, clock: clock, delay: 50 * time.Millisecond}
	})

	// 150ms of reads in a 100ms period
	h.tick(100 * time.Millisecond)
	s, ok := h.published()
	require.True(t, ok)
	assert.Equal(t, loopStart.Add(250*time.Millisecond), s.Timestamp)
	assert.EqualValues(t, 1, h.stats.Snapshot().Overruns)

	// next tick is a full period after the overrunning cycle ended
	h.tick(100 * time.Millisecond)
	s, ok = h.published()
	require.True(t, ok)
	assert.Equal(t, loopStart.Add(500*time.Millisecond), s.Timestamp)
}

type cancellingReader struct {
	dev    *adc.Fake
	cancel context.CancelFunc
}

func (r *cancellingReader) ReadChannel(channel int) (int32, error) {
	if channel == 2 {
		r.cancel()
	}
	return r.dev.ReadChannel(channel)
}

func TestLoopDoesNotPublishAfterShutdown(t *testing.T) {
	clock := clockwork.NewFakeClockAt(loopStart)
	dev := newFakeDevice(t, 100, 200, 300)
	broker := publish.NewBroker("", discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := NewLoop(
		NewPolicy(&cancellingReader{dev: dev, cancel: cancel}, DefaultChannels(), testReference),
		newTestController(t, 10, false),
		broker,
		discardLogger(),
		WithClock(clock),
	)

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sampling loop did not stop")
	}

	assert.Len(t, dev.Reads(), 3)
	_, ok := broker.Latest()
	assert.False(t, ok, "cycle finishing after shutdown must not publish")
}

func TestLoopSurvivesClosedPublisher(t *testing.T) {
	h := newLoopHarness(t, 10, false, nil)
	h.broker.Close()

	h.tick(100 * time.Millisecond)
	h.tick(100 * time.Millisecond)

	stats := h.stats.Snapshot()
	assert.EqualValues(t, 2, stats.Cycles)
	assert.EqualValues(t, 2, stats.Suppressed)
	assert.Equal(t, "publisher_closed", stats.LastErrorCode)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "acquiring", Acquiring.String())
}

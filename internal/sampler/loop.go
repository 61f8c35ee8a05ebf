package sampler

import (
	"context"
	"sync/atomic"

	"codeberg.org/mutker/anglepub/internal/errors"
	"codeberg.org/mutker/anglepub/internal/logger"
	"codeberg.org/mutker/anglepub/internal/sample"
	"codeberg.org/mutker/anglepub/internal/telemetry"
	"github.com/jonboulle/clockwork"
)

// Publisher receives every successfully acquired sample.
type Publisher interface {
	Publish(s sample.Sample) error
}

// State is the sampling loop state.
type State int32

const (
	// Idle means the timer is armed and no reads are in progress.
	Idle State = iota
	// Acquiring means a cycle's device reads are in progress.
	Acquiring
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Acquiring:
		return "acquiring"
	default:
		return "unknown"
	}
}

// Loop drives one acquisition per timer period.
//
// The timer is re-armed only after a cycle has returned, so cycles never
// overlap. Deadlines advance by whole periods from the previous deadline; a
// cycle that overruns its period resets the schedule instead of firing
// immediately to catch up.
type Loop struct {
	policy *Policy
	ctrl   *Controller
	pub    Publisher
	clock  clockwork.Clock
	stats  telemetry.Collector
	log    logger.Logger
	state  atomic.Int32
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(l *Loop) {
		l.clock = clock
	}
}

// WithCollector records every cycle outcome in c.
func WithCollector(c telemetry.Collector) Option {
	return func(l *Loop) {
		l.stats = c
	}
}

// NewLoop wires a Loop. It does not start sampling until Run is called.
func NewLoop(policy *Policy, ctrl *Controller, pub Publisher, log logger.Logger, opts ...Option) *Loop {
	l := &Loop{
		policy: policy,
		ctrl:   ctrl,
		pub:    pub,
		clock:  clockwork.NewRealClock(),
		stats:  telemetry.NewNoopCollector(),
		log:    log,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// State reports whether a cycle is in progress.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Run samples until ctx is cancelled. Device read failures skip the cycle
// and never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	settings := l.ctrl.Snapshot()
	deadline := l.clock.Now().Add(settings.Period)
	timer := l.clock.NewTimer(settings.Period)
	defer timer.Stop()

	l.log.Info().
		Float64("frequency_hz", settings.Frequency()).
		Bool("fast_mode", settings.FastMode).
		Msg("Sampling loop started")

	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("Sampling loop stopped")
			return nil
		case <-timer.Chan():
		}

		settings = l.ctrl.Snapshot()
		outcome := l.cycle(ctx, settings)

		deadline = deadline.Add(settings.Period)
		now := l.clock.Now()
		wait := deadline.Sub(now)
		if wait <= 0 {
			l.log.Warn().
				Dur("cycle", outcome.Duration).
				Dur("period", settings.Period).
				Msg("Cycle overran sampling period")
			outcome.Overrun = true
			deadline = now.Add(settings.Period)
			wait = settings.Period
		}

		l.stats.RecordCycle(outcome)
		timer.Reset(wait)
	}
}

func (l *Loop) cycle(ctx context.Context, settings Settings) telemetry.CycleOutcome {
	l.state.Store(int32(Acquiring))
	defer l.state.Store(int32(Idle))

	start := l.clock.Now()
	reading, err := l.policy.Acquire(settings.FastMode)
	now := l.clock.Now()

	outcome := telemetry.CycleOutcome{
		Reads:    reading.Reads,
		Duration: now.Sub(start),
		At:       now,
	}

	if err != nil {
		l.log.Warn().
			Err(err).
			Str("error_code", string(errors.CodeOf(err))).
			Bool("fast_mode", settings.FastMode).
			Msg("Error reading angles, skipping cycle")
		outcome.Err = err
		return outcome
	}

	if ctx.Err() != nil {
		return outcome
	}

	s := sample.Sample{
		Primary:   reading.Primary,
		Secondary: reading.Secondary,
		Reference: reading.Reference,
		Timestamp: now,
		FastMode:  settings.FastMode,
	}
	if err := l.pub.Publish(s); err != nil {
		l.log.Warn().Err(err).Msg("Failed to publish angles")
		outcome.Err = err
		return outcome
	}

	outcome.Published = true
	l.log.Debug().
		Float64("x", s.Primary).
		Float64("y", s.Secondary).
		Float64("z", s.Reference).
		Msg("Published angles")

	return outcome
}

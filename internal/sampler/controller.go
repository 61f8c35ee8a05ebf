package sampler

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/anglepub/internal/errors"
	"codeberg.org/mutker/anglepub/internal/logger"
)

// DefaultFrequency is the sampling rate used when none is configured.
const DefaultFrequency = 70.0

// Settings is an immutable snapshot of the runtime-tunable sampling
// parameters. Period is always positive and derived from FrequencyHz.
type Settings struct {
	Period      time.Duration
	FrequencyHz float64
	FastMode    bool
}

// Frequency returns the requested sampling rate in Hz. Period is rounded
// to whole nanoseconds, so the two need not agree exactly.
func (s Settings) Frequency() float64 {
	if s.FrequencyHz > 0 {
		return s.FrequencyHz
	}
	return float64(time.Second) / float64(s.Period)
}

// Update carries the fields of a reconfiguration request. Nil fields are
// left unchanged.
type Update struct {
	FrequencyHz *float64
	FastMode    *bool
}

// Controller owns the sampling Settings. Readers take one atomic load per
// cycle; Apply publishes a complete new snapshot with one atomic store.
type Controller struct {
	current atomic.Pointer[Settings]
	mu      sync.Mutex
	log     logger.Logger
}

// NewController validates the startup parameters and returns a Controller
// holding them.
func NewController(frequencyHz float64, fastMode bool, log logger.Logger) (*Controller, error) {
	period, err := PeriodFor(frequencyHz)
	if err != nil {
		return nil, err
	}

	c := &Controller{log: log}
	c.current.Store(&Settings{Period: period, FrequencyHz: frequencyHz, FastMode: fastMode})

	return c, nil
}

// PeriodFor converts a frequency in Hz to a timer period. Only finite,
// strictly positive frequencies are accepted. Periods shorter than the
// timer resolution are raised to one nanosecond; a period too long for a
// time.Duration is rejected.
func PeriodFor(frequencyHz float64) (time.Duration, error) {
	if !(frequencyHz > 0) || math.IsInf(frequencyHz, 1) {
		return 0, invalidFrequency(frequencyHz)
	}

	period := float64(time.Second) / frequencyHz
	if period >= math.MaxInt64 {
		return 0, invalidFrequency(frequencyHz)
	}
	if period < 1 {
		return time.Nanosecond, nil
	}

	return time.Duration(period), nil
}

func invalidFrequency(frequencyHz float64) errors.Error {
	return errors.New().WithMessage(errors.ErrInvalidFrequency,
		fmt.Sprintf("Invalid frequency value: %v. Must be positive.", frequencyHz))
}

// Snapshot returns the current settings.
func (c *Controller) Snapshot() Settings {
	return *c.current.Load()
}

// Parameters is the externally visible form of Settings.
type Parameters struct {
	FrequencyHz float64 `json:"frequency_hz"`
	Period      string  `json:"period"`
	FastMode    bool    `json:"fast_mode"`
}

// Parameters returns the effective settings for reporting.
func (c *Controller) Parameters() Parameters {
	s := c.Snapshot()
	return Parameters{
		FrequencyHz: s.Frequency(),
		Period:      s.Period.String(),
		FastMode:    s.FastMode,
	}
}

// Apply validates and applies each field of u independently. Accepted
// fields take effect together from the next timer cycle even when another
// field is rejected; the returned error describes the rejection.
func (c *Controller) Apply(u Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.current.Load()
	next := *prev

	var rejected error
	if u.FrequencyHz != nil {
		period, err := PeriodFor(*u.FrequencyHz)
		if err != nil {
			c.log.Error().Err(err).Float64("frequency_hz", *u.FrequencyHz).Msg("Rejected frequency update")
			rejected = err
		} else {
			next.Period = period
			next.FrequencyHz = *u.FrequencyHz
		}
	}

	if u.FastMode != nil {
		next.FastMode = *u.FastMode
	}

	if next == *prev {
		return rejected
	}

	c.current.Store(&next)

	if next.FrequencyHz != prev.FrequencyHz {
		c.log.Info().
			Float64("frequency_hz", next.Frequency()).
			Dur("period", next.Period).
			Msgf("Updated timer frequency to %v Hz (period: %.6fs)", next.Frequency(), next.Period.Seconds())
	}
	if next.FastMode != prev.FastMode {
		c.log.Info().Bool("fast_mode", next.FastMode).Msg("Updated fast mode")
	}

	return rejected
}

package adc

import (
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/anglepub/internal/errors"
)

const (
	simulatedAmplitude = 8000
	simulatedOffset    = 13000
	simulatedCycle     = 4 * time.Second
)

// Simulator is a hardware-free Device producing slowly swinging codes on
// every channel, phase shifted per channel. It is meant for bench runs of
// the daemon without a sensor board attached.
type Simulator struct {
	mu         sync.Mutex
	start      time.Time
	now        func() time.Time
	configured bool
}

// NewSimulator returns a Simulator driven by the wall clock.
func NewSimulator() *Simulator {
	return &Simulator{now: time.Now}
}

func (s *Simulator) Configure(Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = s.now()
	s.configured = true
	return nil
}

func (s *Simulator) ReadChannel(channel int) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validChannel(channel) {
		return 0, channelError(errors.ErrInvalidArgument, channel, nil)
	}
	if !s.configured {
		return 0, channelError(errors.ErrDeviceNotReady, channel, nil)
	}

	elapsed := s.now().Sub(s.start)
	phase := 2*math.Pi*float64(elapsed)/float64(simulatedCycle) + float64(channel)*math.Pi/2

	return int32(math.Round(simulatedOffset + simulatedAmplitude*math.Sin(phase))), nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configured = false
	return nil
}

package adc

import (
	"sync"

	"codeberg.org/mutker/anglepub/internal/errors"
)

// Fake is a scriptable in-memory Device. Values and failures can be changed
// at any time; every read is recorded in order.
type Fake struct {
	mu           sync.Mutex
	values       [NumChannels]int32
	failures     map[int]error
	reads        []int
	settings     *Settings
	configureErr error
	closed       bool
}

// NewFake returns a Fake whose channels report values in index order.
func NewFake(values ...int32) *Fake {
	f := &Fake{failures: make(map[int]error)}
	copy(f.values[:], values)
	return f
}

// SetValue changes the code returned for channel.
func (f *Fake) SetValue(channel int, value int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[channel] = value
}

// FailChannel makes every read of channel return err until cleared.
func (f *Fake) FailChannel(channel int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[channel] = err
}

// ClearFailures removes all injected read failures.
func (f *Fake) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[int]error)
}

// FailConfigure makes the next Configure call return err.
func (f *Fake) FailConfigure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configureErr = err
}

// Reads returns the channels read so far, oldest first.
func (f *Fake) Reads() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.reads...)
}

// ResetReads forgets the recorded reads.
func (f *Fake) ResetReads() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = nil
}

// Settings returns the applied configuration, if any.
func (f *Fake) Settings() (Settings, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settings == nil {
		return Settings{}, false
	}
	return *f.settings, true
}

func (f *Fake) Configure(settings Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.configureErr != nil {
		err := f.configureErr
		f.configureErr = nil
		return errors.New().Wrap(errors.ErrDeviceInit, err)
	}
	f.settings = &settings

	return nil
}

func (f *Fake) ReadChannel(channel int) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !validChannel(channel) {
		return 0, channelError(errors.ErrInvalidArgument, channel, nil)
	}
	if f.settings == nil || f.closed {
		return 0, channelError(errors.ErrDeviceNotReady, channel, nil)
	}

	f.reads = append(f.reads, channel)
	if err, ok := f.failures[channel]; ok {
		return 0, channelError(errors.ErrDeviceRead, channel, err)
	}

	return f.values[channel], nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

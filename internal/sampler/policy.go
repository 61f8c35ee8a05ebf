package sampler

import (
	"fmt"

	"codeberg.org/mutker/anglepub/internal/errors"
)

// Reader performs one blocking read of an ADC channel.
type Reader interface {
	ReadChannel(channel int) (int32, error)
}

// Channels maps the logical inputs to device channel indices.
type Channels struct {
	Primary   int
	Secondary int
	Reference int
}

// DefaultChannels wires primary, secondary and reference to AIN0..AIN2.
func DefaultChannels() Channels {
	return Channels{Primary: 0, Secondary: 1, Reference: 2}
}

// Reading holds the values of one successful acquisition and the number of
// device reads it took. Raw device codes are carried without conversion.
type Reading struct {
	Primary   float64
	Secondary float64
	Reference float64
	Reads     int
}

// Policy decides which channels a cycle reads.
//
// Normal mode reads primary, secondary and reference in that order. Fast
// mode skips the reference read and substitutes a calibration constant.
// A failed read fails the whole acquisition.
type Policy struct {
	reader    Reader
	channels  Channels
	reference float64
}

// NewPolicy returns a Policy reading from r. referenceConstant is the value
// reported for the reference channel in fast mode.
func NewPolicy(r Reader, channels Channels, referenceConstant float64) *Policy {
	return &Policy{reader: r, channels: channels, reference: referenceConstant}
}

// Acquire runs the read sequence for the given mode. On error the returned
// Reading carries only the number of reads attempted.
func (p *Policy) Acquire(fastMode bool) (Reading, error) {
	var r Reading

	primary, err := p.read(&r, "primary", p.channels.Primary)
	if err != nil {
		return Reading{Reads: r.Reads}, err
	}

	secondary, err := p.read(&r, "secondary", p.channels.Secondary)
	if err != nil {
		return Reading{Reads: r.Reads}, err
	}

	reference := p.reference
	if !fastMode {
		reference, err = p.read(&r, "reference", p.channels.Reference)
		if err != nil {
			return Reading{Reads: r.Reads}, err
		}
	}

	r.Primary = primary
	r.Secondary = secondary
	r.Reference = reference

	return r, nil
}

func (p *Policy) read(r *Reading, name string, channel int) (float64, error) {
	r.Reads++

	raw, err := p.reader.ReadChannel(channel)
	if err != nil {
		return 0, errors.New().Wrap(errors.ErrDeviceRead, err).
			WithData(fmt.Sprintf("%s (channel %d)", name, channel))
	}

	return float64(raw), nil
}

package adc

import "periph.io/x/conn/v3/physic"

// Device is the narrow capability the sampler needs from an ADC.
//
// Configure is called once before any read. ReadChannel performs one blocking
// single-ended conversion and returns the raw device code.
type Device interface {
	Configure(settings Settings) error
	ReadChannel(channel int) (int32, error)
	Close() error
}

// Mode selects how conversions are triggered.
type Mode int

const (
	// ModeSingleShot starts one conversion per read and powers down after.
	ModeSingleShot Mode = iota
	// ModeContinuous keeps the converter running between reads.
	ModeContinuous
)

func (m Mode) String() string {
	switch m {
	case ModeSingleShot:
		return "single"
	case ModeContinuous:
		return "continuous"
	default:
		return "unknown"
	}
}

// Settings is the one-time gain/data-rate/mode configuration.
type Settings struct {
	// FullScale is the programmable gain range, e.g. 6.144 V.
	FullScale physic.ElectricPotential
	// DataRate is the converter sample rate, e.g. 860 Hz.
	DataRate physic.Frequency
	Mode     Mode
}

// NumChannels is the number of single-ended inputs on an ADS1x15.
const NumChannels = 4

// DefaultSettings matches the wiring of the angle sensor board.
func DefaultSettings() Settings {
	return Settings{
		FullScale: 6144 * physic.MilliVolt,
		DataRate:  860 * physic.Hertz,
		Mode:      ModeSingleShot,
	}
}

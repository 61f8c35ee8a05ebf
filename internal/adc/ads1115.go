package adc

import (
	"sync"

	"codeberg.org/mutker/anglepub/internal/errors"
	"codeberg.org/mutker/anglepub/internal/logger"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

// DefaultAddress is the I2C address with ADDR tied to ground.
const DefaultAddress uint16 = 0x48

var singleEnded = [NumChannels]ads1x15.Channel{
	ads1x15.Channel0,
	ads1x15.Channel1,
	ads1x15.Channel2,
	ads1x15.Channel3,
}

// ADS1115 reads single-ended channels of a TI ADS1115 through periph.io.
type ADS1115 struct {
	bus  i2c.BusCloser
	dev  *ads1x15.Dev
	pins [NumChannels]ads1x15.PinADC
	mu   sync.Mutex
	log  logger.Logger
}

// OpenADS1115 initializes the host drivers and opens the device on the named
// I2C bus ("" selects the first bus found).
func OpenADS1115(busName string, address uint16, log logger.Logger) (*ADS1115, error) {
	errFactory := errors.New()

	if _, err := host.Init(); err != nil {
		return nil, errFactory.Wrap(errors.ErrDeviceInit, err).WithData("host init")
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrDeviceInit, err).WithData("open i2c bus " + busName)
	}

	dev, err := ads1x15.NewADS1115(bus, &ads1x15.Opts{I2cAddress: address})
	if err != nil {
		bus.Close()
		return nil, errFactory.Wrap(errors.ErrDeviceInit, err)
	}

	log.Debug().
		Str("bus", bus.String()).
		Uint16("address", address).
		Msg("ADS1115 opened")

	return &ADS1115{bus: bus, dev: dev, log: log}, nil
}

// Configure binds all single-ended channels with the given gain and rate.
func (d *ADS1115) Configure(settings Settings) error {
	errFactory := errors.New()
	d.mu.Lock()
	defer d.mu.Unlock()

	// Read() on a periph pin always runs a single-shot conversion.
	if settings.Mode != ModeSingleShot {
		return errFactory.WithData(errors.ErrDeviceUnsupported, settings.Mode.String())
	}

	for i, ch := range singleEnded {
		pin, err := d.dev.PinForChannel(ch, settings.FullScale, settings.DataRate, ads1x15.BestQuality)
		if err != nil {
			d.haltPins()
			return channelError(errors.ErrDeviceInit, i, err)
		}
		d.pins[i] = pin
	}

	d.log.Info().
		Str("full_scale", settings.FullScale.String()).
		Str("data_rate", settings.DataRate.String()).
		Str("mode", settings.Mode.String()).
		Msg("ADS1115 configured")

	return nil
}

// ReadChannel performs one conversion and returns the raw signed code.
func (d *ADS1115) ReadChannel(channel int) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !validChannel(channel) {
		return 0, channelError(errors.ErrInvalidArgument, channel, nil)
	}

	pin := d.pins[channel]
	if pin == nil {
		return 0, channelError(errors.ErrDeviceNotReady, channel, nil)
	}

	s, err := pin.Read()
	if err != nil {
		return 0, channelError(errors.ErrDeviceRead, channel, err)
	}

	return s.Raw, nil
}

// Close halts the device and releases the bus.
func (d *ADS1115) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.haltPins()
	if err := d.dev.Halt(); err != nil {
		d.log.Debug().Err(err).Msg("Failed to halt ADS1115")
	}
	if err := d.bus.Close(); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

func (d *ADS1115) haltPins() {
	for i, pin := range d.pins {
		if pin == nil {
			continue
		}
		if err := pin.Halt(); err != nil {
			d.log.Debug().Err(err).Int("channel", i).Msg("Failed to halt pin")
		}
		d.pins[i] = nil
	}
}

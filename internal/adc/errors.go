package adc

import (
	"fmt"

	"codeberg.org/mutker/anglepub/internal/errors"
)

func channelError(code errors.ErrorCode, channel int, err error) errors.Error {
	errFactory := errors.New()
	if err == nil {
		return errFactory.WithData(code, fmt.Sprintf("channel %d", channel))
	}
	return errFactory.Wrap(code, err).WithData(fmt.Sprintf("channel %d", channel))
}

func validChannel(channel int) bool {
	return channel >= 0 && channel < NumChannels
}

package telemetry_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/anglepub/internal/errors"
	"codeberg.org/mutker/anglepub/internal/telemetry"
	"github.com/stretchr/testify/assert"
)

func TestCollectorCounts(t *testing.T) {
	c := telemetry.NewCollector()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c.RecordCycle(telemetry.CycleOutcome{Published: true, Reads: 3, Duration: 4 * time.Millisecond, At: at})
	c.RecordCycle(telemetry.CycleOutcome{Published: true, Reads: 2, Overrun: true, At: at.Add(time.Second)})
	c.RecordCycle(telemetry.CycleOutcome{
		Reads: 1,
		Err:   errors.New().New(errors.ErrDeviceRead),
		At:    at.Add(2 * time.Second),
	})

	s := c.Snapshot()
	assert.EqualValues(t, 3, s.Cycles)
	assert.EqualValues(t, 2, s.Published)
	assert.EqualValues(t, 1, s.Suppressed)
	assert.EqualValues(t, 6, s.DeviceReads)
	assert.EqualValues(t, 1, s.Overruns)
	assert.Equal(t, at.Add(time.Second), s.LastPublished)
	assert.Equal(t, "device_read_failed", s.LastErrorCode)
	assert.Equal(t, at.Add(2*time.Second), s.LastErrorAt)
}

func TestNoopCollector(t *testing.T) {
	c := telemetry.NewNoopCollector()
	c.RecordCycle(telemetry.CycleOutcome{Published: true})
	assert.Equal(t, telemetry.Stats{}, c.Snapshot())
}

package telemetry

import (
	"sync"

	"codeberg.org/mutker/anglepub/internal/errors"
)

type counters struct {
	mu    sync.Mutex
	stats Stats
}

// NewCollector returns an in-memory Collector
func NewCollector() Collector {
	return &counters{}
}

func (c *counters) RecordCycle(outcome CycleOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Cycles++
	c.stats.DeviceReads += uint64(outcome.Reads)
	c.stats.LastCycleDuration = outcome.Duration

	if outcome.Overrun {
		c.stats.Overruns++
	}

	if outcome.Published {
		c.stats.Published++
		c.stats.LastPublished = outcome.At
		return
	}

	c.stats.Suppressed++
	if outcome.Err != nil {
		c.stats.LastError = outcome.Err.Error()
		c.stats.LastErrorCode = string(errors.CodeOf(outcome.Err))
		c.stats.LastErrorAt = outcome.At
	}
}

func (c *counters) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

type noopCollector struct{}

// NewNoopCollector returns a Collector that discards everything
func NewNoopCollector() Collector {
	return noopCollector{}
}

func (noopCollector) RecordCycle(CycleOutcome) {}

func (noopCollector) Snapshot() Stats { return Stats{} }

package telemetry

import "time"

// Collector receives the outcome of every sampling cycle
type Collector interface {
	RecordCycle(outcome CycleOutcome)
	Snapshot() Stats
}

// CycleOutcome describes one finished cycle
type CycleOutcome struct {
	Published bool
	Reads     int
	Duration  time.Duration
	Overrun   bool
	Err       error
	At        time.Time
}

// Stats is a point-in-time copy of the counters
type Stats struct {
	Cycles            uint64        `json:"cycles"`
	Published         uint64        `json:"published"`
	Suppressed        uint64        `json:"suppressed"`
	DeviceReads       uint64        `json:"device_reads"`
	Overruns          uint64        `json:"overruns"`
	LastCycleDuration time.Duration `json:"last_cycle_duration_ns"`
	LastPublished     time.Time     `json:"last_published,omitempty"`
	LastError         string        `json:"last_error,omitempty"`
	LastErrorCode     string        `json:"last_error_code,omitempty"`
	LastErrorAt       time.Time     `json:"last_error_at,omitempty"`
}

package metrics

import (
	"context"

	"codeberg.org/mutker/anglepub/internal/sample"
)

// Recorder stores published samples. It satisfies publish.Sink so it can be
// attached to the broker with publish.Forward.
type Recorder interface {
	Send(ctx context.Context, s sample.Sample) error
	Recent(ctx context.Context, limit int) ([]sample.Sample, error)
	Close() error
	Enabled() bool
}

// SampleRepository defines the interface for sample storage
type SampleRepository interface {
	Record(s sample.Sample) error
	Recent(ctx context.Context, limit int) ([]sample.Sample, error)
	Close() error
}

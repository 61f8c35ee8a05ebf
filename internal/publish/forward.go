package publish

import (
	"context"

	"codeberg.org/mutker/anglepub/internal/logger"
	"codeberg.org/mutker/anglepub/internal/sample"
)

// Sink is an external consumer of published samples.
type Sink interface {
	Send(ctx context.Context, s sample.Sample) error
	Close() error
}

// Forward subscribes to b and hands every delivered sample to sink until ctx
// is cancelled or the broker closes. Sink errors are logged and the sample
// dropped; delivery to sinks is best-effort.
func Forward(ctx context.Context, b *Broker, sink Sink, log logger.Logger) error {
	sub, err := b.Subscribe()
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := sink.Send(ctx, s); err != nil {
				log.Warn().Err(err).Str("topic", b.Topic()).Msg("Failed to forward sample")
			}
		}
	}
}

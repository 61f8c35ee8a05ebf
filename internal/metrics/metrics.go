package metrics

import (
	"context"

	"codeberg.org/mutker/anglepub/internal/errors"
	"codeberg.org/mutker/anglepub/internal/logger"
	"codeberg.org/mutker/anglepub/internal/sample"
)

type service struct {
	repo SampleRepository
	cfg  Config
}

// No-op implementation
type noopRecorder struct{}

func NewService(cfg Config, log logger.Logger) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If metrics is disabled, return a no-op recorder
	if !cfg.Enabled {
		log.Debug().Msg("Sample history disabled, using no-op recorder")
		return &noopRecorder{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create sample repository")
		return nil, err
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Int("batch_size", cfg.BatchSize).
		Msg("Sample history initialized successfully")

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) Send(ctx context.Context, smp sample.Sample) error {
	errFactory := errors.New()

	if smp.Timestamp.IsZero() {
		return errFactory.New(ErrInvalidSample)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Record(smp); err != nil {
			return errFactory.Wrap(ErrStorageAccess, err)
		}
	}

	return nil
}

func (s *service) Recent(ctx context.Context, limit int) ([]sample.Sample, error) {
	return s.repo.Recent(ctx, limit)
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}

func (*service) Enabled() bool {
	return true
}

// No-op implementation
func (*noopRecorder) Send(_ context.Context, _ sample.Sample) error {
	return nil
}

func (*noopRecorder) Recent(_ context.Context, _ int) ([]sample.Sample, error) {
	return nil, nil
}

func (*noopRecorder) Close() error {
	return nil
}

func (*noopRecorder) Enabled() bool {
	return false
}

// Package telemetry keeps an optional sqlite journal of harvest deliveries.
package telemetry

import (
	"context"

	"codeberg.org/mutker/harvester/internal/errors"
	"codeberg.org/mutker/harvester/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
	log  logger.Logger
}

type noopJournal struct{}

// NewJournal returns the sqlite-backed journal, or a no-op journal when
// cfg.Enabled is false.
func NewJournal(cfg Config, log logger.Logger) (Journal, error) {
	errFactory := errors.New()

	if log == nil {
		log = logger.Nop()
	}
	log = log.With("journal")

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Delivery journal disabled, using no-op journal")
		return noopJournal{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return &service{repo: repo, cfg: cfg, log: log}, nil
}

func (s *service) Record(ctx context.Context, rec *DeliveryRecord) error {
	errFactory := errors.New()

	if rec == nil || rec.Endpoint == "" {
		return errFactory.New(ErrInvalidRecord)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Record(rec); err != nil {
			return errFactory.Wrap(ErrRecordFailed, err)
		}
	}

	return nil
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}

func (noopJournal) Record(context.Context, *DeliveryRecord) error { return nil }
func (noopJournal) Close() error                                  { return nil }

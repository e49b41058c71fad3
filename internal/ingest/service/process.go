package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	counterdomain "github.com/smallbiznis/coinpulse/internal/counter/domain"
	eventdomain "github.com/smallbiznis/coinpulse/internal/event/domain"
	ingestdomain "github.com/smallbiznis/coinpulse/internal/ingest/domain"
	"github.com/smallbiznis/coinpulse/internal/keylock"
	"github.com/smallbiznis/coinpulse/internal/observability/tracing"
	"github.com/smallbiznis/coinpulse/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stageError struct {
	stage ingestdomain.Stage
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }

func (e *stageError) Unwrap() error { return e.err }

func machineLockKey(id snowflake.ID) string {
	return "machine:" + id.String()
}

// process brings the aggregates fed by event up to date, retrying when the
// machine lock or the transaction conflicts with a concurrent writer.
func (s *Service) process(ctx context.Context, event *eventdomain.Event, prepare func(tx *gorm.DB) error) (*counterdomain.MachineCounters, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveRollupDuration(ctx, time.Since(start)) }()

	for attempt := 1; ; attempt++ {
		counters, err := s.applyOnce(ctx, event, prepare, attempt)
		if err == nil {
			return counters, nil
		}
		if !isConflict(err) {
			return nil, err
		}

		s.metrics.RecordRollupConflict(ctx)
		if attempt >= s.maxAttempts {
			return nil, fmt.Errorf("%w: %w", ingestdomain.ErrConflict, err)
		}

		s.log.Debug("rollup conflict, retrying",
			zap.String("event_id", event.ID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := sleepContext(ctx, time.Duration(attempt)*s.backoff); err != nil {
			return nil, err
		}
	}
}

// applyOnce runs prepare, the rollup and counter recompute and the processed
// flag in one transaction while holding the machine lock.
func (s *Service) applyOnce(ctx context.Context, event *eventdomain.Event, prepare func(tx *gorm.DB) error, attempt int) (counters *counterdomain.MachineCounters, err error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.applyRollup",
		attribute.String("machine.id", event.MachineID.String()),
		attribute.String("event.id", event.ID.String()),
		attribute.String("rollup.date", event.Temporal.EventDate),
		attribute.Int("attempt", attempt),
	)
	defer func() { tracing.EndSpan(span, err) }()

	unlock, err := s.locker.Lock(ctx, machineLockKey(event.MachineID))
	if err != nil {
		return nil, &stageError{stage: ingestdomain.StageRollup, err: err}
	}
	defer unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if prepare != nil {
			if err := prepare(tx); err != nil {
				return err
			}
		}
		if _, err := s.rollups.RecomputeDay(ctx, tx, event.MachineID, event.Temporal.EventDate); err != nil {
			return &stageError{stage: ingestdomain.StageRollup, err: err}
		}
		c, err := s.counters.Recompute(ctx, tx, event.MachineID)
		if err != nil {
			return &stageError{stage: ingestdomain.StageCounter, err: err}
		}
		if err := s.events.MarkProcessed(ctx, tx, event.ID); err != nil {
			return &stageError{stage: ingestdomain.StageMark, err: err}
		}
		counters = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counters, nil
}

func isConflict(err error) bool {
	return errors.Is(err, keylock.ErrLockNotAcquired) || db.IsRetryableTxErr(err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/coinpulse/internal/clock"
	"github.com/smallbiznis/coinpulse/internal/config"
	counterdomain "github.com/smallbiznis/coinpulse/internal/counter/domain"
	eventdomain "github.com/smallbiznis/coinpulse/internal/event/domain"
	ingestdomain "github.com/smallbiznis/coinpulse/internal/ingest/domain"
	"github.com/smallbiznis/coinpulse/internal/keylock"
	machinedomain "github.com/smallbiznis/coinpulse/internal/machine/domain"
	obslogger "github.com/smallbiznis/coinpulse/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/coinpulse/internal/observability/metrics"
	"github.com/smallbiznis/coinpulse/internal/observability/tracing"
	rollupdomain "github.com/smallbiznis/coinpulse/internal/rollup/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxClockSkew       = 5 * time.Minute
	valueScale         = 4
	defaultMaxAttempts = 3
	defaultBatchLimit  = 4
	defaultBatchItems  = 500
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	GenID    *snowflake.Node
	Clock    clock.Clock
	Resolver machinedomain.Resolver
	Events   eventdomain.Repository
	Counters counterdomain.Service
	Rollups  rollupdomain.Service
	Locker   keylock.Locker
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	loc      *time.Location
	resolver machinedomain.Resolver
	events   eventdomain.Repository
	counters counterdomain.Service
	rollups  rollupdomain.Service
	locker   keylock.Locker
	metrics  *obsmetrics.Metrics

	maxAttempts      int
	batchConcurrency int
	batchMaxItems    int
	backoff          time.Duration
}

func NewService(p ServiceParam) ingestdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("ingest.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		loc:      p.Cfg.Ingest.Location(),
		resolver: p.Resolver,
		events:   p.Events,
		counters: p.Counters,
		rollups:  p.Rollups,
		locker:   p.Locker,
		metrics:  p.Metrics,

		maxAttempts:      positive(p.Cfg.Ingest.RollupMaxAttempts, defaultMaxAttempts),
		batchConcurrency: positive(p.Cfg.Ingest.BatchConcurrency, defaultBatchLimit),
		batchMaxItems:    positive(p.Cfg.Ingest.BatchMaxItems, defaultBatchItems),
		backoff:          25 * time.Millisecond,
	}
}

func positive(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func (s *Service) RecordEvent(ctx context.Context, req ingestdomain.RecordEventRequest) (res *ingestdomain.RecordEventResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.RecordEvent")
	defer func() { tracing.EndSpan(span, err) }()

	res, err = s.recordEvent(ctx, req)
	if err != nil {
		s.metrics.RecordEventRejected(ctx, ingestdomain.ErrorCode(err))
		return nil, err
	}
	s.metrics.RecordEventRecorded(ctx, res.Event.Processed)
	return res, nil
}

func (s *Service) recordEvent(ctx context.Context, req ingestdomain.RecordEventRequest) (*ingestdomain.RecordEventResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	occurredAt := now
	if req.OccurredAt != nil {
		if req.OccurredAt.IsZero() || req.OccurredAt.After(now.Add(maxClockSkew)) {
			return nil, ingestdomain.ErrInvalidOccurredAt
		}
		occurredAt = *req.OccurredAt
	}

	machine, err := s.resolveMachine(ctx, req)
	if err != nil {
		return nil, err
	}

	value := machine.DefaultValue
	if req.Value != nil {
		value = *req.Value
	}
	if err := validateValue(value); err != nil {
		return nil, err
	}

	event := &eventdomain.Event{
		ID:              s.genID.Generate(),
		MachineID:       machine.ID,
		MachineCode:     machine.Code,
		Value:           value,
		Currency:        machine.Currency,
		Region:          machine.Location.Region,
		City:            machine.Location.City,
		Address:         machine.Location.Address,
		Players:         req.Players,
		DurationSeconds: req.DurationSeconds,
		SequenceNumber:  req.SequenceNumber,
		OriginIP:        strings.TrimSpace(req.OriginIP),
		ClientID:        strings.TrimSpace(req.ClientID),
		CreatedAt:       now,
	}
	if len(req.Metadata) > 0 {
		event.Metadata = datatypes.JSONMap(req.Metadata)
	}
	event.SetOccurredAt(occurredAt, s.loc)

	if err := s.events.Insert(ctx, s.db, event); err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	counters, err := s.process(ctx, event, nil)
	if err != nil {
		warning := s.partial(ctx, event, err)
		return &ingestdomain.RecordEventResult{
			Event:    event,
			Counters: s.currentCounters(ctx, event.MachineID),
			Warning:  warning,
		}, nil
	}

	event.Processed = true
	return &ingestdomain.RecordEventResult{
		Event:    event,
		Counters: counters,
	}, nil
}

func (s *Service) resolveMachine(ctx context.Context, req ingestdomain.RecordEventRequest) (*machinedomain.ResolvedMachine, error) {
	id := strings.TrimSpace(req.MachineID)
	code := strings.TrimSpace(req.MachineCode)
	if id == "" && code == "" {
		return nil, machinedomain.ErrInvalidMachine
	}

	ref := id
	if ref == "" {
		ref = code
	}
	machine, err := s.resolver.ResolveMachine(ctx, ref)
	if err != nil {
		return nil, err
	}
	if id != "" && code != "" && machine.Code != code {
		return nil, machinedomain.ErrInvalidMachine
	}
	if !machine.Operational {
		return nil, machinedomain.ErrMachineNotOperational
	}
	return machine, nil
}

func validateRequest(req ingestdomain.RecordEventRequest) error {
	if req.Players < 0 {
		return ingestdomain.ErrInvalidPlayers
	}
	if req.DurationSeconds < 0 {
		return ingestdomain.ErrInvalidDuration
	}
	if req.SequenceNumber != nil && *req.SequenceNumber < 0 {
		return ingestdomain.ErrInvalidSequenceNumber
	}
	if req.Value != nil {
		return validateValue(*req.Value)
	}
	return nil
}

// validateValue accepts positive amounts with at most four decimal places.
func validateValue(v decimal.Decimal) error {
	if !v.IsPositive() {
		return ingestdomain.ErrInvalidValue
	}
	if !v.Equal(v.Round(valueScale)) {
		return ingestdomain.ErrInvalidValue
	}
	return nil
}

func (s *Service) ReprocessEvent(ctx context.Context, eventID snowflake.ID) (res *ingestdomain.RecordEventResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.ReprocessEvent", attribute.String("event.id", eventID.String()))
	defer func() { tracing.EndSpan(span, err) }()

	event, err := s.findEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	counters, err := s.process(ctx, event, nil)
	if err != nil {
		return nil, s.partial(ctx, event, err)
	}

	event.Processed = true
	return &ingestdomain.RecordEventResult{Event: event, Counters: counters}, nil
}

func (s *Service) SoftDeleteEvent(ctx context.Context, eventID snowflake.ID) (event *eventdomain.Event, err error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.SoftDeleteEvent", attribute.String("event.id", eventID.String()))
	defer func() { tracing.EndSpan(span, err) }()

	event, err = s.findEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.SoftDeleted {
		return event, nil
	}

	deletedAt := s.clock.Now()
	_, err = s.process(ctx, event, func(tx *gorm.DB) error {
		if err := s.events.MarkSoftDeleted(ctx, tx, event.ID, deletedAt); err != nil {
			return &stageError{stage: ingestdomain.StageDelete, err: err}
		}
		return nil
	})
	if err != nil {
		// The flag rolls back with the recompute, so nothing was stored.
		obslogger.WithContext(ctx, s.log).Warn("event soft delete failed",
			zap.String("event_id", event.ID.String()),
			zap.String("machine_id", event.MachineID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("soft delete event %s: %w", event.ID, err)
	}

	obslogger.WithContext(ctx, s.log).Info("event soft deleted",
		zap.String("event_id", event.ID.String()),
		zap.String("machine_id", event.MachineID.String()),
		zap.String("event_date", event.Temporal.EventDate),
	)

	return s.findEvent(ctx, eventID)
}

func (s *Service) findEvent(ctx context.Context, eventID snowflake.ID) (*eventdomain.Event, error) {
	if eventID == 0 {
		return nil, ingestdomain.ErrInvalidEventID
	}
	event, err := s.events.FindByID(ctx, s.db, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, eventdomain.ErrEventNotFound
	}
	return event, nil
}

// partial logs and counts an aggregate failure for a stored event.
func (s *Service) partial(ctx context.Context, event *eventdomain.Event, err error) *ingestdomain.PartialProcessingError {
	stage := ingestdomain.StageRollup
	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
	}

	s.metrics.RecordRollupFailure(ctx, string(stage))
	obslogger.WithContext(ctx, s.log).Error("event aggregates not updated",
		zap.String("event_id", event.ID.String()),
		zap.String("machine_id", event.MachineID.String()),
		zap.String("event_date", event.Temporal.EventDate),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)

	return &ingestdomain.PartialProcessingError{
		EventID: event.ID,
		Stage:   stage,
		Code:    ingestdomain.ErrorCode(err),
		Err:     err,
	}
}

// currentCounters reads the stored counters even when ctx is already done.
func (s *Service) currentCounters(ctx context.Context, machineID snowflake.ID) *counterdomain.MachineCounters {
	counters, err := s.counters.Get(context.WithoutCancel(ctx), machineID)
	if err != nil {
		s.log.Warn("read machine counters failed",
			zap.String("machine_id", machineID.String()),
			zap.Error(err),
		)
		return nil
	}
	return counters
}

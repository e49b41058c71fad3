package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/coinpulse/internal/clock"
	counterdomain "github.com/smallbiznis/coinpulse/internal/counter/domain"
	eventdomain "github.com/smallbiznis/coinpulse/internal/event/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Repo   counterdomain.Repository
	Events eventdomain.Repository
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	repo   counterdomain.Repository
	events eventdomain.Repository
}

func NewService(p ServiceParam) counterdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("counter.service"),
		clock:  p.Clock,
		repo:   p.Repo,
		events: p.Events,
	}
}

func (s *Service) Recompute(ctx context.Context, tx *gorm.DB, machineID snowflake.ID) (*counterdomain.MachineCounters, error) {
	totals, err := s.events.MachineTotals(ctx, tx, machineID)
	if err != nil {
		return nil, fmt.Errorf("aggregate machine events: %w", err)
	}

	counters := &counterdomain.MachineCounters{
		MachineID:            machineID,
		TotalEvents:          totals.EventCount,
		TotalRevenue:         totals.Revenue,
		TotalPlayTimeSeconds: totals.PlayTimeSeconds,
		LastEventAt:          totals.LastEventAt,
		UpdatedAt:            s.now(),
	}
	if err := s.repo.Upsert(ctx, tx, counters); err != nil {
		return nil, fmt.Errorf("upsert machine counters: %w", err)
	}

	s.log.Debug("machine counters recomputed",
		zap.String("machine_id", machineID.String()),
		zap.Int64("total_events", counters.TotalEvents),
		zap.String("total_revenue", counters.TotalRevenue.StringFixed(4)),
	)
	return counters, nil
}

func (s *Service) Get(ctx context.Context, machineID snowflake.ID) (*counterdomain.MachineCounters, error) {
	counters, err := s.repo.FindByMachineID(ctx, s.db, machineID)
	if err != nil {
		return nil, err
	}
	if counters == nil {
		return &counterdomain.MachineCounters{
			MachineID:    machineID,
			TotalRevenue: decimal.Zero,
		}, nil
	}
	return counters, nil
}

func (s *Service) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

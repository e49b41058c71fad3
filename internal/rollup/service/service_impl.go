package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coinpulse/internal/clock"
	eventdomain "github.com/smallbiznis/coinpulse/internal/event/domain"
	rollupdomain "github.com/smallbiznis/coinpulse/internal/rollup/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Repo   rollupdomain.Repository
	Events eventdomain.Repository
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	repo   rollupdomain.Repository
	events eventdomain.Repository
}

func NewService(p ServiceParam) rollupdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("rollup.service"),
		clock:  p.Clock,
		repo:   p.Repo,
		events: p.Events,
	}
}

// RecomputeDay replaces the rollups of machineID on date with a fresh
// aggregate. Running it twice over unchanged events yields the same rows.
func (s *Service) RecomputeDay(ctx context.Context, tx *gorm.DB, machineID snowflake.ID, date string) (*rollupdomain.DailyRollup, error) {
	if _, err := time.Parse(eventdomain.DateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid rollup date %q: %w", date, err)
	}

	id := machineID
	hours, err := s.events.HourlyAggregates(ctx, tx, eventdomain.Filter{
		MachineID: &id,
		FromDate:  date,
		ToDate:    date,
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate hourly events: %w", err)
	}

	now := s.now()
	keep := make([]int, 0, len(hours))
	hourly := make([]*rollupdomain.HourlyRollup, 0, len(hours))
	for _, h := range hours {
		if h.EventCount == 0 {
			continue
		}
		keep = append(keep, h.Hour)
		hourly = append(hourly, &rollupdomain.HourlyRollup{
			MachineID:       machineID,
			RollupDate:      date,
			Hour:            h.Hour,
			EventCount:      h.EventCount,
			Revenue:         h.Revenue,
			PlayTimeSeconds: h.PlayTimeSeconds,
			TotalPlayers:    h.Players,
			UpdatedAt:       now,
		})
	}

	if err := s.repo.DeleteHourlyExcept(ctx, tx, machineID, date, keep); err != nil {
		return nil, fmt.Errorf("delete stale hourly rollups: %w", err)
	}

	summary := rollupdomain.SummarizeDay(date, hours)
	if summary.EventCount == 0 {
		if err := s.repo.DeleteDaily(ctx, tx, machineID, date); err != nil {
			return nil, fmt.Errorf("delete daily rollup: %w", err)
		}
		s.log.Debug("rollup cleared",
			zap.String("machine_id", machineID.String()),
			zap.String("rollup_date", date),
		)
		return nil, nil
	}

	if err := s.repo.UpsertHourly(ctx, tx, hourly); err != nil {
		return nil, fmt.Errorf("upsert hourly rollups: %w", err)
	}

	daily := &rollupdomain.DailyRollup{
		MachineID:              machineID,
		RollupDate:             date,
		EventCount:             summary.EventCount,
		TotalRevenue:           summary.TotalRevenue,
		TotalPlayTimeSeconds:   summary.TotalPlayTimeSeconds,
		TotalPlayers:           summary.TotalPlayers,
		AveragePlayers:         summary.AveragePlayers,
		AverageDurationSeconds: summary.AverageDurationSeconds,
		PeakHour:               summary.PeakHour,
		UpdatedAt:              now,
	}
	if err := s.repo.UpsertDaily(ctx, tx, daily); err != nil {
		return nil, fmt.Errorf("upsert daily rollup: %w", err)
	}

	s.log.Debug("rollup recomputed",
		zap.String("machine_id", machineID.String()),
		zap.String("rollup_date", date),
		zap.Int64("event_count", daily.EventCount),
		zap.Int("hours", len(hourly)),
	)
	return daily, nil
}

func (s *Service) ListDaily(ctx context.Context, r rollupdomain.Range) ([]*rollupdomain.DailyRollup, error) {
	rows, err := s.repo.ListDaily(ctx, s.db, r)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		row.TotalRevenue = row.TotalRevenue.Round(4)
		row.AveragePlayers = row.AveragePlayers.Round(4)
		row.AverageDurationSeconds = row.AverageDurationSeconds.Round(4)
	}
	return rows, nil
}

func (s *Service) ListHourly(ctx context.Context, r rollupdomain.Range) ([]*rollupdomain.HourlyRollup, error) {
	rows, err := s.repo.ListHourly(ctx, s.db, r)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		row.Revenue = row.Revenue.Round(4)
	}
	return rows, nil
}

func (s *Service) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

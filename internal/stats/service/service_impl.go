package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/coinpulse/internal/config"
	eventdomain "github.com/smallbiznis/coinpulse/internal/event/domain"
	machinedomain "github.com/smallbiznis/coinpulse/internal/machine/domain"
	rollupdomain "github.com/smallbiznis/coinpulse/internal/rollup/domain"
	statsdomain "github.com/smallbiznis/coinpulse/internal/stats/domain"
	"github.com/smallbiznis/coinpulse/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const moneyScale = 4

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	Machines machinedomain.Repository
	Events   eventdomain.Repository
	Rollups  rollupdomain.Service
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
	loc *time.Location

	machines machinedomain.Repository
	events   eventdomain.Repository
	rollups  rollupdomain.Service
}

func NewService(p ServiceParam) statsdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("stats.service"),
		loc: p.Cfg.Ingest.Location(),

		machines: p.Machines,
		events:   p.Events,
		rollups:  p.Rollups,
	}
}

func (s *Service) LookupMachine(ctx context.Context, ref string) (*machinedomain.Machine, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, machinedomain.ErrInvalidMachine
	}
	if id, err := snowflake.ParseString(ref); err == nil && id > 0 {
		m, err := s.machines.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if m != nil {
			return m, nil
		}
	}
	m, err := s.machines.FindByCode(ctx, ref)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, machinedomain.ErrMachineNotFound
	}
	return m, nil
}

// eventFilter translates f for the event store. Start and End are kept as
// timestamps.
func (s *Service) eventFilter(ctx context.Context, f statsdomain.Filter) (eventdomain.Filter, error) {
	out := eventdomain.Filter{
		Region: strings.TrimSpace(f.Region),
		City:   strings.TrimSpace(f.City),
		Start:  f.Start,
		End:    f.End,
	}
	if f.Start != nil && f.End != nil && !f.Start.Before(*f.End) {
		return out, statsdomain.ErrInvalidRange
	}
	if strings.TrimSpace(f.Machine) != "" {
		m, err := s.LookupMachine(ctx, f.Machine)
		if err != nil {
			return out, err
		}
		out.MachineID = &m.ID
	}
	return out, nil
}

// dayFilter is eventFilter with Start and End widened to whole days.
func (s *Service) dayFilter(ctx context.Context, f statsdomain.Filter) (eventdomain.Filter, error) {
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		return eventdomain.Filter{}, statsdomain.ErrInvalidRange
	}
	out, err := s.eventFilter(ctx, statsdomain.Filter{Machine: f.Machine, Region: f.Region, City: f.City})
	if err != nil {
		return out, err
	}
	if f.Start != nil {
		out.FromDate = eventdomain.DateOf(*f.Start, s.loc)
	}
	if f.End != nil {
		out.ToDate = eventdomain.DateOf(*f.End, s.loc)
	}
	return out, nil
}

// fromRollups reports whether a query can be answered from the rollup
// tables: one machine, no location filter, and no event in range still
// waiting for its aggregate update.
func (s *Service) fromRollups(ctx context.Context, f eventdomain.Filter) (bool, error) {
	if f.MachineID == nil || f.Region != "" || f.City != "" {
		return false, nil
	}
	pending, err := s.events.HasUnprocessed(ctx, s.db, f)
	if err != nil {
		return false, err
	}
	if pending {
		s.log.Debug("unprocessed events in range, reading raw events",
			zap.String("machine_id", f.MachineID.String()),
			zap.String("from", f.FromDate),
			zap.String("to", f.ToDate),
		)
		return false, nil
	}
	return true, nil
}

func (s *Service) EventsInRange(ctx context.Context, q statsdomain.EventsQuery) (*statsdomain.EventsPage, error) {
	filter, err := s.eventFilter(ctx, q.Filter)
	if err != nil {
		return nil, err
	}

	cursor, err := pagination.DecodeCursor(q.PageToken)
	if err != nil {
		return nil, err
	}

	limit := pagination.NormalizePageSize(q.PageSize)
	query := eventdomain.ListQuery{Filter: filter, Limit: limit + 1}
	if cursor != nil {
		afterID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		occurredAt := cursor.OccurredAt
		query.AfterOccurredAt = &occurredAt
		query.AfterID = afterID
	}

	rows, err := s.events.List(ctx, s.db, query)
	if err != nil {
		return nil, err
	}

	rows, pageInfo, err := pagination.BuildCursorPageInfo(rows, limit, func(e *eventdomain.Event) pagination.Cursor {
		return pagination.Cursor{ID: e.ID.String(), OccurredAt: e.OccurredAt}
	})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []*eventdomain.Event{}
	}

	return &statsdomain.EventsPage{PageInfo: *pageInfo, Events: rows}, nil
}

func (s *Service) DailyStats(ctx context.Context, f statsdomain.Filter) ([]statsdomain.DailyStat, error) {
	if f.Start == nil || f.End == nil {
		return nil, statsdomain.ErrInvalidRange
	}
	filter, err := s.dayFilter(ctx, f)
	if err != nil {
		return nil, err
	}
	useRollups, err := s.fromRollups(ctx, filter)
	if err != nil {
		return nil, err
	}
	if !useRollups {
		return s.dailyFromEvents(ctx, filter)
	}

	rows, err := s.rollups.ListDaily(ctx, rollupdomain.Range{
		MachineID: *filter.MachineID,
		FromDate:  filter.FromDate,
		ToDate:    filter.ToDate,
	})
	if err != nil {
		return nil, err
	}

	out := make([]statsdomain.DailyStat, 0, len(rows))
	for _, row := range rows {
		out = append(out, statsdomain.DailyStat{
			Date:                   row.RollupDate,
			EventCount:             row.EventCount,
			TotalRevenue:           row.TotalRevenue,
			TotalPlayTimeSeconds:   row.TotalPlayTimeSeconds,
			TotalPlayers:           row.TotalPlayers,
			AveragePlayers:         row.AveragePlayers,
			AverageDurationSeconds: row.AverageDurationSeconds,
			PeakHour:               row.PeakHour,
		})
	}
	return out, nil
}

func (s *Service) DailyStatsFromEvents(ctx context.Context, f statsdomain.Filter) ([]statsdomain.DailyStat, error) {
	if f.Start == nil || f.End == nil {
		return nil, statsdomain.ErrInvalidRange
	}
	filter, err := s.dayFilter(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.dailyFromEvents(ctx, filter)
}

// dailyFromEvents folds hourly event aggregates the same way the rollup
// store does, so both paths agree.
func (s *Service) dailyFromEvents(ctx context.Context, filter eventdomain.Filter) ([]statsdomain.DailyStat, error) {
	hours, err := s.events.HourlyAggregates(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	dates, byDate := rollupdomain.GroupByDate(hours)
	out := make([]statsdomain.DailyStat, 0, len(dates))
	for _, date := range dates {
		out = append(out, rollupdomain.SummarizeDay(date, byDate[date]))
	}
	return out, nil
}

func (s *Service) HourlyProfile(ctx context.Context, f statsdomain.Filter) ([24]statsdomain.HourBucket, error) {
	var buckets [24]statsdomain.HourBucket
	for h := range buckets {
		buckets[h] = statsdomain.HourBucket{Hour: h, Revenue: decimal.Zero}
	}

	filter, err := s.dayFilter(ctx, f)
	if err != nil {
		return buckets, err
	}

	add := func(hour int, count int64, revenue decimal.Decimal, play int64) {
		if hour < 0 || hour > 23 {
			return
		}
		b := &buckets[hour]
		b.EventCount += count
		b.Revenue = b.Revenue.Add(revenue)
		b.PlayTimeSeconds += play
	}

	useRollups, err := s.fromRollups(ctx, filter)
	if err != nil {
		return buckets, err
	}
	if useRollups {
		rows, err := s.rollups.ListHourly(ctx, rollupdomain.Range{
			MachineID: *filter.MachineID,
			FromDate:  filter.FromDate,
			ToDate:    filter.ToDate,
		})
		if err != nil {
			return buckets, err
		}
		for _, row := range rows {
			add(row.Hour, row.EventCount, row.Revenue, row.PlayTimeSeconds)
		}
	} else {
		rows, err := s.events.HourlyAggregates(ctx, s.db, filter)
		if err != nil {
			return buckets, err
		}
		for _, row := range rows {
			add(row.Hour, row.EventCount, row.Revenue, row.PlayTimeSeconds)
		}
	}

	for h := range buckets {
		buckets[h].Revenue = buckets[h].Revenue.Round(moneyScale)
	}
	return buckets, nil
}

func (s *Service) TopMachinesByRevenue(ctx context.Context, n int, f statsdomain.Filter) ([]statsdomain.TopMachine, error) {
	switch {
	case n < 0:
		return nil, statsdomain.ErrInvalidLimit
	case n == 0:
		n = statsdomain.DefaultTopMachines
	case n > statsdomain.MaxTopMachines:
		n = statsdomain.MaxTopMachines
	}

	filter, err := s.eventFilter(ctx, f)
	if err != nil {
		return nil, err
	}

	rows, err := s.events.RevenueByMachine(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].Revenue.Cmp(rows[j].Revenue); c != 0 {
			return c > 0
		}
		return rows[i].MachineID < rows[j].MachineID
	})
	if len(rows) > n {
		rows = rows[:n]
	}

	out := make([]statsdomain.TopMachine, 0, len(rows))
	for _, row := range rows {
		out = append(out, statsdomain.TopMachine{
			MachineID:   row.MachineID,
			MachineCode: row.MachineCode,
			EventCount:  row.EventCount,
			Revenue:     row.Revenue,
		})
	}
	return out, nil
}

func (s *Service) RegionTrend(ctx context.Context, start, end *time.Time) ([]statsdomain.RegionTrend, error) {
	filter, err := s.eventFilter(ctx, statsdomain.Filter{Start: start, End: end})
	if err != nil {
		return nil, err
	}

	rows, err := s.events.RegionMonthly(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	out := make([]statsdomain.RegionTrend, 0, len(rows))
	for _, row := range rows {
		perMachine := decimal.Zero
		if row.DistinctMachines > 0 {
			perMachine = row.Revenue.Div(decimal.NewFromInt(row.DistinctMachines)).Round(moneyScale)
		}
		out = append(out, statsdomain.RegionTrend{
			Region:            row.Region,
			Year:              row.Year,
			Month:             row.Month,
			EventCount:        row.EventCount,
			Revenue:           row.Revenue,
			DistinctMachines:  row.DistinctMachines,
			RevenuePerMachine: perMachine,
		})
	}
	return out, nil
}

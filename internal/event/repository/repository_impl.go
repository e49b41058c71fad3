package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	eventdomain "github.com/smallbiznis/coinpulse/internal/event/domain"
	"github.com/smallbiznis/coinpulse/pkg/db/option"
	"gorm.io/gorm"
)

// moneyScale is the number of decimal places money is stored with.
const moneyScale = 4

type repo struct{}

func Provide() eventdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, e *eventdomain.Event) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	return db.WithContext(ctx).Create(e).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*eventdomain.Event, error) {
	var e eventdomain.Event
	err := db.WithContext(ctx).Where("id = ?", id).Take(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE events SET processed = ?, updated_at = ? WHERE id = ?`,
		true,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repo) MarkSoftDeleted(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE events SET soft_deleted = ?, deleted_at = ?, updated_at = ? WHERE id = ? AND soft_deleted = ?`,
		true,
		at.UTC(),
		at.UTC(),
		id,
		false,
	)
	return res.Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, q eventdomain.ListQuery) ([]*eventdomain.Event, error) {
	stmt := applyFilter(db.WithContext(ctx).Model(&eventdomain.Event{}), q.Filter)
	if q.AfterOccurredAt != nil {
		after := q.AfterOccurredAt.UTC()
		stmt = stmt.Where("(occurred_at < ? OR (occurred_at = ? AND id < ?))", after, after, q.AfterID)
	}

	var events []*eventdomain.Event
	err := stmt.
		Scopes(scope(option.WithSortBy("occurred_at", true)), scope(option.WithSortBy("id", true)), scope(option.WithLimit(q.Limit))).
		Find(&events).Error
	return events, err
}

func (r *repo) HasUnprocessed(ctx context.Context, db *gorm.DB, filter eventdomain.Filter) (bool, error) {
	var ids []snowflake.ID
	err := applyFilter(db.WithContext(ctx).Model(&eventdomain.Event{}), filter).
		Where("processed = ?", false).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

func (r *repo) HourlyAggregates(ctx context.Context, db *gorm.DB, filter eventdomain.Filter) ([]eventdomain.HourAggregate, error) {
	var rows []eventdomain.HourAggregate
	err := applyFilter(db.WithContext(ctx).Model(&eventdomain.Event{}), filter).
		Select(`event_date, hour,
			COUNT(*) AS event_count,
			COALESCE(SUM(value), 0) AS revenue,
			COALESCE(SUM(duration_seconds), 0) AS play_time_seconds,
			COALESCE(SUM(players), 0) AS players`).
		Group("event_date, hour").
		Order("event_date ASC, hour ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Revenue = rows[i].Revenue.Round(moneyScale)
	}
	return rows, nil
}

func (r *repo) MachineTotals(ctx context.Context, db *gorm.DB, machineID snowflake.ID) (*eventdomain.MachineTotals, error) {
	var totals struct {
		EventCount      int64
		Revenue         decimal.Decimal
		PlayTimeSeconds int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS event_count,
			COALESCE(SUM(value), 0) AS revenue,
			COALESCE(SUM(duration_seconds), 0) AS play_time_seconds
		 FROM events
		 WHERE machine_id = ? AND soft_deleted = ?`,
		machineID,
		false,
	).Scan(&totals).Error
	if err != nil {
		return nil, err
	}

	// ORDER BY keeps the column type, which MAX() loses on some drivers.
	var last []struct {
		OccurredAt time.Time
	}
	err = db.WithContext(ctx).Raw(
		`SELECT occurred_at FROM events
		 WHERE machine_id = ? AND soft_deleted = ?
		 ORDER BY occurred_at DESC LIMIT 1`,
		machineID,
		false,
	).Scan(&last).Error
	if err != nil {
		return nil, err
	}

	out := &eventdomain.MachineTotals{
		EventCount:      totals.EventCount,
		Revenue:         totals.Revenue.Round(moneyScale),
		PlayTimeSeconds: totals.PlayTimeSeconds,
	}
	if len(last) > 0 {
		at := last[0].OccurredAt.UTC()
		out.LastEventAt = &at
	}
	return out, nil
}

func (r *repo) RevenueByMachine(ctx context.Context, db *gorm.DB, filter eventdomain.Filter) ([]eventdomain.MachineRevenue, error) {
	var rows []eventdomain.MachineRevenue
	err := applyFilter(db.WithContext(ctx).Model(&eventdomain.Event{}), filter).
		Select(`machine_id,
			MAX(machine_code) AS machine_code,
			COUNT(*) AS event_count,
			COALESCE(SUM(value), 0) AS revenue`).
		Group("machine_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Revenue = rows[i].Revenue.Round(moneyScale)
	}
	return rows, nil
}

func (r *repo) RegionMonthly(ctx context.Context, db *gorm.DB, filter eventdomain.Filter) ([]eventdomain.RegionMonth, error) {
	var rows []eventdomain.RegionMonth
	err := applyFilter(db.WithContext(ctx).Model(&eventdomain.Event{}), filter).
		Select(`region, year, month,
			COUNT(*) AS event_count,
			COALESCE(SUM(value), 0) AS revenue,
			COUNT(DISTINCT machine_id) AS distinct_machines`).
		Group("region, year, month").
		Order("region ASC, year ASC, month ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Revenue = rows[i].Revenue.Round(moneyScale)
	}
	return rows, nil
}

// applyFilter restricts stmt to non-deleted events matching f.
func applyFilter(stmt *gorm.DB, f eventdomain.Filter) *gorm.DB {
	stmt = stmt.Where("soft_deleted = ?", false)
	if f.MachineID != nil {
		stmt = stmt.Where("machine_id = ?", *f.MachineID)
	}
	if f.Region != "" {
		stmt = stmt.Where("region = ?", f.Region)
	}
	if f.City != "" {
		stmt = stmt.Where("city = ?", f.City)
	}
	if f.FromDate != "" {
		stmt = stmt.Where("event_date >= ?", f.FromDate)
	}
	if f.ToDate != "" {
		stmt = stmt.Where("event_date <= ?", f.ToDate)
	}
	if f.Start != nil {
		stmt = stmt.Where("occurred_at >= ?", f.Start.UTC())
	}
	if f.End != nil {
		stmt = stmt.Where("occurred_at < ?", f.End.UTC())
	}
	return stmt
}

func scope(opt option.QueryOption) func(*gorm.DB) *gorm.DB {
	return opt.Apply
}

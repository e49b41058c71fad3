package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	rollupdomain "github.com/smallbiznis/coinpulse/internal/rollup/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() rollupdomain.Repository {
	return &repo{}
}

func (r *repo) UpsertDaily(ctx context.Context, db *gorm.DB, rollup *rollupdomain.DailyRollup) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "machine_id"}, {Name: "rollup_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"event_count",
			"total_revenue",
			"total_play_time_seconds",
			"total_players",
			"average_players",
			"average_duration_seconds",
			"peak_hour",
			"updated_at",
		}),
	}).Create(rollup).Error
}

func (r *repo) DeleteDaily(ctx context.Context, db *gorm.DB, machineID snowflake.ID, date string) error {
	return db.WithContext(ctx).
		Where("machine_id = ? AND rollup_date = ?", machineID, date).
		Delete(&rollupdomain.DailyRollup{}).Error
}

func (r *repo) UpsertHourly(ctx context.Context, db *gorm.DB, rollups []*rollupdomain.HourlyRollup) error {
	if len(rollups) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "machine_id"}, {Name: "rollup_date"}, {Name: "hour"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"event_count",
			"revenue",
			"play_time_seconds",
			"total_players",
			"updated_at",
		}),
	}).Create(&rollups).Error
}

func (r *repo) DeleteHourlyExcept(ctx context.Context, db *gorm.DB, machineID snowflake.ID, date string, keep []int) error {
	stmt := db.WithContext(ctx).Where("machine_id = ? AND rollup_date = ?", machineID, date)
	if len(keep) > 0 {
		stmt = stmt.Where("hour NOT IN ?", keep)
	}
	return stmt.Delete(&rollupdomain.HourlyRollup{}).Error
}

func (r *repo) ListDaily(ctx context.Context, db *gorm.DB, rg rollupdomain.Range) ([]*rollupdomain.DailyRollup, error) {
	var rows []*rollupdomain.DailyRollup
	err := applyRange(db.WithContext(ctx), rg).
		Order("rollup_date ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repo) ListHourly(ctx context.Context, db *gorm.DB, rg rollupdomain.Range) ([]*rollupdomain.HourlyRollup, error) {
	var rows []*rollupdomain.HourlyRollup
	err := applyRange(db.WithContext(ctx), rg).
		Order("rollup_date ASC, hour ASC").
		Find(&rows).Error
	return rows, err
}

func applyRange(stmt *gorm.DB, rg rollupdomain.Range) *gorm.DB {
	stmt = stmt.Where("machine_id = ?", rg.MachineID)
	if rg.FromDate != "" {
		stmt = stmt.Where("rollup_date >= ?", rg.FromDate)
	}
	if rg.ToDate != "" {
		stmt = stmt.Where("rollup_date <= ?", rg.ToDate)
	}
	return stmt
}

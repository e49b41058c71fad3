package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	counterdomain "github.com/smallbiznis/coinpulse/internal/counter/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() counterdomain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, c *counterdomain.MachineCounters) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "machine_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_events",
			"total_revenue",
			"total_play_time_seconds",
			"last_event_at",
			"updated_at",
		}),
	}).Create(c).Error
}

func (r *repo) FindByMachineID(ctx context.Context, db *gorm.DB, machineID snowflake.ID) (*counterdomain.MachineCounters, error) {
	var c counterdomain.MachineCounters
	err := db.WithContext(ctx).Where("machine_id = ?", machineID).Take(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	c.TotalRevenue = c.TotalRevenue.Round(4)
	return &c, nil
}

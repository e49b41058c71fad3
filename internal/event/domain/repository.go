package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrEventNotFound = errors.New("event_not_found")

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *Event) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Event, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	MarkSoftDeleted(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	List(ctx context.Context, db *gorm.DB, query ListQuery) ([]*Event, error)
	// HasUnprocessed reports whether any non-deleted event matching filter
	// still awaits its aggregate update.
	HasUnprocessed(ctx context.Context, db *gorm.DB, filter Filter) (bool, error)
	HourlyAggregates(ctx context.Context, db *gorm.DB, filter Filter) ([]HourAggregate, error)
	MachineTotals(ctx context.Context, db *gorm.DB, machineID snowflake.ID) (*MachineTotals, error)
	RevenueByMachine(ctx context.Context, db *gorm.DB, filter Filter) ([]MachineRevenue, error)
	RegionMonthly(ctx context.Context, db *gorm.DB, filter Filter) ([]RegionMonth, error)
}

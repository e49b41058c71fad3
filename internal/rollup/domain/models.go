package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DailyRollup is the materialized aggregate of one machine's non-deleted
// events on one calendar date.
type DailyRollup struct {
	MachineID              snowflake.ID    `json:"machine_id" gorm:"primaryKey;autoIncrement:false"`
	RollupDate             string          `json:"date" gorm:"primaryKey;type:varchar(10)"`
	EventCount             int64           `json:"event_count" gorm:"not null"`
	TotalRevenue           decimal.Decimal `json:"total_revenue" gorm:"type:numeric(20,4);not null"`
	TotalPlayTimeSeconds   int64           `json:"total_play_time_seconds" gorm:"not null"`
	TotalPlayers           int64           `json:"total_players" gorm:"not null"`
	AveragePlayers         decimal.Decimal `json:"average_players" gorm:"type:numeric(20,4);not null"`
	AverageDurationSeconds decimal.Decimal `json:"average_duration_seconds" gorm:"type:numeric(20,4);not null"`
	PeakHour               *int            `json:"peak_hour"`
	UpdatedAt              time.Time       `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (DailyRollup) TableName() string { return "daily_rollups" }

// HourlyRollup is the aggregate of one machine's non-deleted events within
// one hour of one date.
type HourlyRollup struct {
	MachineID       snowflake.ID    `json:"machine_id" gorm:"primaryKey;autoIncrement:false"`
	RollupDate      string          `json:"date" gorm:"primaryKey;type:varchar(10)"`
	Hour            int             `json:"hour" gorm:"primaryKey;autoIncrement:false"`
	EventCount      int64           `json:"event_count" gorm:"not null"`
	Revenue         decimal.Decimal `json:"revenue" gorm:"type:numeric(20,4);not null"`
	PlayTimeSeconds int64           `json:"play_time_seconds" gorm:"not null"`
	TotalPlayers    int64           `json:"total_players" gorm:"not null"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (HourlyRollup) TableName() string { return "hourly_rollups" }

// Range selects rollups of one machine between two inclusive dates.
type Range struct {
	MachineID snowflake.ID
	FromDate  string
	ToDate    string
}

type Repository interface {
	UpsertDaily(ctx context.Context, db *gorm.DB, rollup *DailyRollup) error
	DeleteDaily(ctx context.Context, db *gorm.DB, machineID snowflake.ID, date string) error
	UpsertHourly(ctx context.Context, db *gorm.DB, rollups []*HourlyRollup) error
	// DeleteHourlyExcept removes the hourly rows of the date whose hour is
	// not in keep. An empty keep removes all of them.
	DeleteHourlyExcept(ctx context.Context, db *gorm.DB, machineID snowflake.ID, date string, keep []int) error
	ListDaily(ctx context.Context, db *gorm.DB, r Range) ([]*DailyRollup, error)
	ListHourly(ctx context.Context, db *gorm.DB, r Range) ([]*HourlyRollup, error)
}

type Service interface {
	// RecomputeDay rebuilds the daily row and the hourly rows of one
	// machine and date from the event store inside tx.
	RecomputeDay(ctx context.Context, tx *gorm.DB, machineID snowflake.ID, date string) (*DailyRollup, error)
	ListDaily(ctx context.Context, r Range) ([]*DailyRollup, error)
	ListHourly(ctx context.Context, r Range) ([]*HourlyRollup, error)
}

package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MachineCounters are the lifetime totals of a machine's non-deleted events.
type MachineCounters struct {
	MachineID            snowflake.ID    `json:"machine_id" gorm:"primaryKey;autoIncrement:false"`
	TotalEvents          int64           `json:"total_events" gorm:"not null"`
	TotalRevenue         decimal.Decimal `json:"total_revenue" gorm:"type:numeric(20,4);not null"`
	TotalPlayTimeSeconds int64           `json:"total_play_time_seconds" gorm:"not null"`
	LastEventAt          *time.Time      `json:"last_event_at"`
	UpdatedAt            time.Time       `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (MachineCounters) TableName() string { return "machine_counters" }

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, counters *MachineCounters) error
	FindByMachineID(ctx context.Context, db *gorm.DB, machineID snowflake.ID) (*MachineCounters, error)
}

type Service interface {
	// Recompute rebuilds the counters of machineID from the event store
	// inside tx.
	Recompute(ctx context.Context, tx *gorm.DB, machineID snowflake.ID) (*MachineCounters, error)
	// Get returns the stored counters, or a zero snapshot for a machine
	// without events.
	Get(ctx context.Context, machineID snowflake.ID) (*MachineCounters, error)
}

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Event is one reported pulse or completed game. Location and currency are
// copied from the machine when the event is written and never follow later
// changes to the machine.
type Event struct {
	ID              snowflake.ID      `json:"id" gorm:"primaryKey"`
	MachineID       snowflake.ID      `json:"machine_id" gorm:"not null;index:idx_events_machine_date,priority:1"`
	MachineCode     string            `json:"machine_code" gorm:"type:text;not null"`
	Value           decimal.Decimal   `json:"value" gorm:"type:numeric(20,4);not null"`
	Currency        string            `json:"currency" gorm:"type:varchar(3);not null"`
	OccurredAt      time.Time         `json:"occurred_at" gorm:"not null;index:idx_events_occurred_at"`
	Region          string            `json:"region" gorm:"type:text;index:idx_events_region_date,priority:1"`
	City            string            `json:"city" gorm:"type:text"`
	Address         string            `json:"address" gorm:"type:text"`
	Temporal        Temporal          `json:"temporal" gorm:"embedded"`
	Players         int               `json:"players" gorm:"not null"`
	DurationSeconds int64             `json:"duration_seconds" gorm:"not null"`
	SequenceNumber  *int64            `json:"sequence_number,omitempty"`
	OriginIP        string            `json:"origin_ip,omitempty" gorm:"type:text"`
	ClientID        string            `json:"client_id,omitempty" gorm:"type:text"`
	Metadata        datatypes.JSONMap `json:"metadata,omitempty"`
	Processed       bool              `json:"processed" gorm:"not null;index:idx_events_processed"`
	SoftDeleted     bool              `json:"soft_deleted" gorm:"not null"`
	DeletedAt       *time.Time        `json:"deleted_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time         `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Event) TableName() string { return "events" }

// Temporal holds the calendar fields derived from OccurredAt.
type Temporal struct {
	EventDate  string `json:"date" gorm:"column:event_date;type:varchar(10);not null;index:idx_events_machine_date,priority:2;index:idx_events_region_date,priority:2"`
	Year       int    `json:"year" gorm:"not null"`
	Month      int    `json:"month" gorm:"not null"`
	Day        int    `json:"day" gorm:"not null"`
	DayOfWeek  int    `json:"day_of_week" gorm:"not null"`
	Hour       int    `json:"hour" gorm:"not null"`
	Minute     int    `json:"minute" gorm:"not null"`
	Quarter    int    `json:"quarter" gorm:"not null"`
	WeekOfYear int    `json:"week_of_year" gorm:"not null"`
}

// HourAggregate is the per (date, hour) aggregate of non-deleted events
// matching a Filter.
type HourAggregate struct {
	EventDate       string          `json:"date"`
	Hour            int             `json:"hour"`
	EventCount      int64           `json:"event_count"`
	Revenue         decimal.Decimal `json:"revenue"`
	PlayTimeSeconds int64           `json:"play_time_seconds"`
	Players         int64           `json:"players"`
}

// MachineTotals is the lifetime aggregate of a machine's non-deleted events.
type MachineTotals struct {
	EventCount      int64
	Revenue         decimal.Decimal
	PlayTimeSeconds int64
	LastEventAt     *time.Time
}

type MachineRevenue struct {
	MachineID   snowflake.ID    `json:"machine_id"`
	MachineCode string          `json:"machine_code"`
	EventCount  int64           `json:"event_count"`
	Revenue     decimal.Decimal `json:"revenue"`
}

type RegionMonth struct {
	Region           string          `json:"region"`
	Year             int             `json:"year"`
	Month            int             `json:"month"`
	EventCount       int64           `json:"event_count"`
	Revenue          decimal.Decimal `json:"revenue"`
	DistinctMachines int64           `json:"distinct_machines"`
}

// Filter narrows event reads. Dates are inclusive "YYYY-MM-DD" bounds on the
// derived event date; Start and End bound OccurredAt as [Start, End).
type Filter struct {
	MachineID *snowflake.ID
	Region    string
	City      string
	FromDate  string
	ToDate    string
	Start     *time.Time
	End       *time.Time
}

// ListQuery selects a page of events ordered by (occurred_at, id) descending.
type ListQuery struct {
	Filter
	AfterOccurredAt *time.Time
	AfterID         snowflake.ID
	Limit           int
}

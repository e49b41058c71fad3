package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	eventdomain "github.com/smallbiznis/coinpulse/internal/event/domain"
	machinedomain "github.com/smallbiznis/coinpulse/internal/machine/domain"
	rollupdomain "github.com/smallbiznis/coinpulse/internal/rollup/domain"
	"github.com/smallbiznis/coinpulse/pkg/db/pagination"
)

var (
	ErrInvalidRange = errors.New("invalid_range")
	ErrInvalidLimit = errors.New("invalid_limit")
)

const (
	DefaultTopMachines = 10
	MaxTopMachines     = 100
)

// Filter narrows a query. Machine accepts a snowflake id or a machine code.
type Filter struct {
	Machine string
	Region  string
	City    string
	Start   *time.Time
	End     *time.Time
}

// DailyStat is one calendar day of aggregated events.
type DailyStat = rollupdomain.DaySummary

type HourBucket struct {
	Hour            int             `json:"hour"`
	EventCount      int64           `json:"event_count"`
	Revenue         decimal.Decimal `json:"revenue"`
	PlayTimeSeconds int64           `json:"play_time_seconds"`
}

type TopMachine struct {
	MachineID   snowflake.ID    `json:"machine_id"`
	MachineCode string          `json:"machine_code"`
	EventCount  int64           `json:"event_count"`
	Revenue     decimal.Decimal `json:"revenue"`
}

type RegionTrend struct {
	Region            string          `json:"region"`
	Year              int             `json:"year"`
	Month             int             `json:"month"`
	EventCount        int64           `json:"event_count"`
	Revenue           decimal.Decimal `json:"revenue"`
	DistinctMachines  int64           `json:"distinct_machines"`
	RevenuePerMachine decimal.Decimal `json:"revenue_per_machine"`
}

type EventsQuery struct {
	Filter
	PageToken string
	PageSize  int
}

type EventsPage struct {
	pagination.PageInfo
	Events []*eventdomain.Event `json:"events"`
}

type Service interface {
	// EventsInRange pages through events with occurred_at in [Start, End),
	// newest first.
	EventsInRange(ctx context.Context, q EventsQuery) (*EventsPage, error)
	// DailyStats aggregates per calendar day between the dates of Start and
	// End, both inclusive.
	DailyStats(ctx context.Context, f Filter) ([]DailyStat, error)
	// DailyStatsFromEvents is DailyStats always computed from raw events.
	DailyStatsFromEvents(ctx context.Context, f Filter) ([]DailyStat, error)
	HourlyProfile(ctx context.Context, f Filter) ([24]HourBucket, error)
	TopMachinesByRevenue(ctx context.Context, n int, f Filter) ([]TopMachine, error)
	RegionTrend(ctx context.Context, start, end *time.Time) ([]RegionTrend, error)
	// LookupMachine finds a machine by id or code regardless of its status.
	LookupMachine(ctx context.Context, ref string) (*machinedomain.Machine, error)
}

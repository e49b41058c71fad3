// Package storetest opens migrated in-memory databases for package tests.
package storetest

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	eventdomain "github.com/smallbiznis/coinpulse/internal/event/domain"
	machinedomain "github.com/smallbiznis/coinpulse/internal/machine/domain"
	"github.com/smallbiznis/coinpulse/internal/migration"
	"github.com/smallbiznis/coinpulse/pkg/db"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var node = mustNode()

func mustNode() *snowflake.Node {
	n, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return n
}

// Node returns the snowflake node shared by test fixtures.
func Node() *snowflake.Node { return node }

// NewDB returns a fresh database with every table created.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

// MachineOption customizes a seeded machine.
type MachineOption func(*machinedomain.Machine)

func WithLocation(region, city string) MachineOption {
	return func(m *machinedomain.Machine) {
		m.Region = region
		m.City = city
	}
}

func WithStatus(status machinedomain.Status) MachineOption {
	return func(m *machinedomain.Machine) {
		m.Status = status
	}
}

func Inactive() MachineOption {
	return func(m *machinedomain.Machine) {
		m.Active = false
	}
}

// SeedMachine inserts an active machine with a 0.50 EUR pulse.
func SeedMachine(t testing.TB, conn *gorm.DB, code string, opts ...MachineOption) *machinedomain.Machine {
	t.Helper()

	now := time.Now().UTC()
	m := &machinedomain.Machine{
		ID:         node.Generate(),
		Code:       code,
		Name:       "Machine " + code,
		Status:     machinedomain.StatusActive,
		Active:     true,
		Region:     "north",
		City:       "Oslo",
		Address:    "Storgata 1",
		PulseValue: decimal.RequireFromString("0.50"),
		Currency:   "EUR",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, opt := range opts {
		opt(m)
	}
	require.NoError(t, conn.Create(m).Error)
	return m
}

// EventOption customizes an inserted event.
type EventOption func(*eventdomain.Event)

func WithValue(v string) EventOption {
	return func(e *eventdomain.Event) {
		e.Value = decimal.RequireFromString(v)
	}
}

func WithPlay(players int, durationSeconds int64) EventOption {
	return func(e *eventdomain.Event) {
		e.Players = players
		e.DurationSeconds = durationSeconds
	}
}

func SoftDeleted() EventOption {
	return func(e *eventdomain.Event) {
		at := e.OccurredAt
		e.SoftDeleted = true
		e.DeletedAt = &at
	}
}

// Unprocessed leaves the event waiting for its aggregate update.
func Unprocessed() EventOption {
	return func(e *eventdomain.Event) {
		e.Processed = false
	}
}

// InsertEvent writes an event for m at occurredAt, with temporal fields
// derived in UTC.
func InsertEvent(t testing.TB, conn *gorm.DB, m *machinedomain.Machine, occurredAt time.Time, opts ...EventOption) *eventdomain.Event {
	t.Helper()

	now := time.Now().UTC()
	e := &eventdomain.Event{
		ID:          node.Generate(),
		MachineID:   m.ID,
		MachineCode: m.Code,
		Value:       m.PulseValue,
		Currency:    m.Currency,
		Region:      m.Region,
		City:        m.City,
		Address:     m.Address,
		Processed:   true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	e.SetOccurredAt(occurredAt, time.UTC)
	for _, opt := range opts {
		opt(e)
	}
	require.NoError(t, conn.Create(e).Error)
	return e
}

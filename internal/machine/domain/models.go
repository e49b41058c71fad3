package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive      Status = "active"
	StatusMaintenance Status = "maintenance"
	StatusOffline     Status = "offline"
)

// Machine is the reference record of a coin-operated machine. The core only
// reads it; registration happens elsewhere.
type Machine struct {
	ID         snowflake.ID    `json:"id" gorm:"primaryKey"`
	Code       string          `json:"code" gorm:"type:text;not null;uniqueIndex:ux_machines_code"`
	Name       string          `json:"name" gorm:"type:text;not null"`
	Status     Status          `json:"status" gorm:"type:text;not null"`
	Active     bool            `json:"active" gorm:"not null"`
	Region     string          `json:"region" gorm:"type:text"`
	City       string          `json:"city" gorm:"type:text"`
	Address    string          `json:"address" gorm:"type:text"`
	PulseValue decimal.Decimal `json:"pulse_value" gorm:"type:numeric(20,4);not null"`
	Currency   string          `json:"currency" gorm:"type:varchar(3);not null"`
	CreatedAt  time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt  time.Time       `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Machine) TableName() string { return "machines" }

// State is the mutable part of a machine that decides whether it may
// report events.
type State struct {
	Status Status
	Active bool
}

type Location struct {
	Region  string `json:"region"`
	City    string `json:"city"`
	Address string `json:"address"`
}

// ResolvedMachine is what ingestion needs to know about a machine at the
// moment an event is reported.
type ResolvedMachine struct {
	ID           snowflake.ID    `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Status       Status          `json:"status"`
	Operational  bool            `json:"operational"`
	Location     Location        `json:"location"`
	DefaultValue decimal.Decimal `json:"default_value"`
	Currency     string          `json:"currency"`
}

// Resolve snapshots m for ingestion.
func (m Machine) Resolve() *ResolvedMachine {
	return &ResolvedMachine{
		ID:          m.ID,
		Code:        m.Code,
		Name:        m.Name,
		Status:      m.Status,
		Operational: m.Status == StatusActive,
		Location: Location{
			Region:  m.Region,
			City:    m.City,
			Address: m.Address,
		},
		DefaultValue: m.PulseValue,
		Currency:     m.Currency,
	}
}

// WithState returns a copy of r carrying the given status.
func (r ResolvedMachine) WithState(st State) *ResolvedMachine {
	r.Status = st.Status
	r.Operational = st.Status == StatusActive
	return &r
}

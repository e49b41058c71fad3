package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Insert(ctx context.Context, machine *Machine) error
	FindByID(ctx context.Context, id snowflake.ID) (*Machine, error)
	FindByCode(ctx context.Context, code string) (*Machine, error)
	// FindState returns nil when the machine does not exist.
	FindState(ctx context.Context, id snowflake.ID) (*State, error)
	UpdateStatus(ctx context.Context, id snowflake.ID, status Status, active bool) error
}

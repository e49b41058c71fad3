package domain

import (
	"context"
	"errors"
)

// Resolver looks up a machine by snowflake id or external code.
type Resolver interface {
	ResolveMachine(ctx context.Context, idOrCode string) (*ResolvedMachine, error)
}

var (
	ErrInvalidMachine        = errors.New("invalid_machine")
	ErrMachineNotFound       = errors.New("machine_not_found")
	ErrMachineNotOperational = errors.New("machine_not_operational")
	ErrMachineLookupTimeout  = errors.New("machine_lookup_timeout")
)

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coinpulse/internal/config"
	machinedomain "github.com/smallbiznis/coinpulse/internal/machine/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultLookupTimeout = 2 * time.Second

type ResolverParams struct {
	fx.In

	Repo machinedomain.Repository
	Cfg  config.Config
	Log  *zap.Logger
}

type Resolver struct {
	repo    machinedomain.Repository
	timeout time.Duration
	log     *zap.Logger
}

func NewResolver(p ResolverParams) machinedomain.Resolver {
	return &Resolver{
		repo:    p.Repo,
		timeout: lookupTimeout(p.Cfg.Ingest.MachineLookupTimeout),
		log:     p.Log.Named("machine.resolver"),
	}
}

func lookupTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultLookupTimeout
	}
	return d
}

// ResolveMachine looks idOrCode up as a snowflake id first, then as a code.
// Missing and deactivated machines both resolve to ErrMachineNotFound.
func (r *Resolver) ResolveMachine(ctx context.Context, idOrCode string) (*machinedomain.ResolvedMachine, error) {
	ref := strings.TrimSpace(idOrCode)
	if ref == "" {
		return nil, machinedomain.ErrInvalidMachine
	}

	var m *machinedomain.Machine
	err := withLookupTimeout(ctx, r.timeout, r.log, ref, func(ctx context.Context) error {
		var err error
		m, err = r.lookup(ctx, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	if m == nil || !m.Active {
		return nil, machinedomain.ErrMachineNotFound
	}

	return m.Resolve(), nil
}

// withLookupTimeout runs fn under the lookup deadline. An expired deadline
// becomes ErrMachineLookupTimeout; a cancelled caller gets its own ctx error.
func withLookupTimeout(ctx context.Context, timeout time.Duration, log *zap.Logger, ref string, fn func(ctx context.Context) error) error {
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(lookupCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(lookupCtx.Err(), context.DeadlineExceeded) {
		log.Warn("machine lookup timed out",
			zap.String("machine", ref),
			zap.Duration("timeout", timeout),
		)
		return machinedomain.ErrMachineLookupTimeout
	}
	return fmt.Errorf("resolve machine: %w", err)
}

func (r *Resolver) lookup(ctx context.Context, ref string) (*machinedomain.Machine, error) {
	if id, err := snowflake.ParseString(ref); err == nil && id > 0 {
		m, err := r.repo.FindByID(ctx, id)
		if err != nil || m != nil {
			return m, err
		}
	}
	return r.repo.FindByCode(ctx, ref)
}

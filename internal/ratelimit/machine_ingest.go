package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/coinpulse/internal/config"
)

const keyMachineIngest = "ingest:machine:%s"

// MachineIngestLimiter bounds how fast a single machine may report events.
// A nil limiter allows everything.
type MachineIngestLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewMachineIngestLimiter(cfg config.Config, client *redis.Client) (*MachineIngestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	if limitCfg.MachineRate <= 0 || limitCfg.MachineBurst <= 0 {
		return nil, errors.New("machine ingest rate limit must be positive")
	}

	return &MachineIngestLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.MachineRate,
		burst:  limitCfg.MachineBurst,
	}, nil
}

func (l *MachineIngestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *MachineIngestLimiter) AllowMachine(ctx context.Context, machine string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyMachineIngest, strings.TrimSpace(machine)), l.rate, l.burst)
}

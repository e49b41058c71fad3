package keylock

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/coinpulse/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("keylock",
	fx.Provide(New),
)

// New picks the redis locker when redis is configured.
func New(cfg config.Config, client *redis.Client, log *zap.Logger) Locker {
	if client != nil {
		log.Info("using redis machine locks")
		return NewRedis(client, cfg.Ingest.LockTTL, log.Named("keylock"))
	}
	return NewLocal()
}

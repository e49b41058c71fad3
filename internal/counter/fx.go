package counter

import (
	"github.com/smallbiznis/coinpulse/internal/counter/repository"
	"github.com/smallbiznis/coinpulse/internal/counter/service"
	"go.uber.org/fx"
)

var Module = fx.Module("counter.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

package rollup

import (
	"github.com/smallbiznis/coinpulse/internal/rollup/repository"
	"github.com/smallbiznis/coinpulse/internal/rollup/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rollup.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

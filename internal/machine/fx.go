package machine

import (
	"github.com/smallbiznis/coinpulse/internal/machine/repository"
	"github.com/smallbiznis/coinpulse/internal/machine/service"
	"go.uber.org/fx"
)

var Module = fx.Module("machine.service",
	fx.Provide(repository.Provide),
	fx.Provide(
		fx.Annotate(service.NewResolver, fx.ResultTags(`name:"machine.direct"`)),
		fx.Annotate(service.NewCachedResolver, fx.ParamTags(`name:"machine.direct"`, ``, ``, ``)),
	),
)

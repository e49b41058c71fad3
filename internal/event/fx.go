package event

import (
	"github.com/smallbiznis/coinpulse/internal/event/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("event.store",
	fx.Provide(repository.Provide),
)

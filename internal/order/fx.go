package order

import (
	"github.com/stagepass/stagepass/internal/order/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("order",
	fx.Provide(repository.NewRepository),
)

package refund

import (
	"go.uber.org/fx"

	"github.com/stagepass/stagepass/internal/refund/repository"
	"github.com/stagepass/stagepass/internal/refund/service"
)

var Module = fx.Module("refund",
	fx.Provide(
		repository.NewRepository,
		service.NewService,
	),
)

package cancellation

import (
	"go.uber.org/fx"

	"github.com/stagepass/stagepass/internal/cancellation/service"
)

var Module = fx.Module("cancellation",
	fx.Provide(service.NewService),
)

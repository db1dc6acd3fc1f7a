package processor

import (
	"go.uber.org/fx"

	"github.com/stagepass/stagepass/internal/config"
	"github.com/stagepass/stagepass/internal/processor/domain"
	"github.com/stagepass/stagepass/internal/processor/stripe"
)

var Module = fx.Module("processor",
	fx.Provide(
		func(cfg config.Config) domain.CredentialProvider {
			return domain.NewStaticCredentialProvider(cfg.StripeSecretKey, cfg.StripeAccountID)
		},
		func(holder *config.RefundPolicyHolder) domain.Gateway {
			return stripe.NewClient(holder.Get().ProcessorTimeout)
		},
	),
)

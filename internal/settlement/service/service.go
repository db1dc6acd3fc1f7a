package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	orderdomain "github.com/stagepass/stagepass/internal/order/domain"
	settlementdomain "github.com/stagepass/stagepass/internal/settlement/domain"
)

type Param struct {
	fx.In

	Logger *zap.Logger
	Orders orderdomain.Repository
}

// Service computes event-level financial summaries from order rows.
type Service struct {
	log    *zap.Logger
	orders orderdomain.Repository
}

func New(p Param) *Service {
	return &Service{
		log:    p.Logger.Named("settlement.service"),
		orders: p.Orders,
	}
}

// SummarizeEvent loads every order for the event and nets it into a
// FinancialSummary. includeRefunded pulls refunded orders back in for
// historical reports; live dashboards pass false.
func (s *Service) SummarizeEvent(ctx context.Context, eventID snowflake.ID, includeRefunded bool) (settlementdomain.FinancialSummary, error) {
	orders, err := s.orders.FindByEvent(ctx, eventID, orderdomain.ListFilter{})
	if err != nil {
		s.log.Error("load event orders", zap.Int64("event_id", int64(eventID)), zap.Error(err))
		return settlementdomain.FinancialSummary{}, err
	}
	return settlementdomain.Summarize(orders, includeRefunded), nil
}

package service

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cancellationdomain "github.com/stagepass/stagepass/internal/cancellation/domain"
	"github.com/stagepass/stagepass/internal/clock"
	"github.com/stagepass/stagepass/internal/config"
	obsmetrics "github.com/stagepass/stagepass/internal/observability/metrics"
	orderdomain "github.com/stagepass/stagepass/internal/order/domain"
	"github.com/stagepass/stagepass/internal/ratelimit"
	refunddomain "github.com/stagepass/stagepass/internal/refund/domain"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Orders     orderdomain.Repository
	Refunds    refunddomain.Repository
	RefundSvc  refunddomain.Service
	Policy     *config.RefundPolicyHolder
	Limiter    *ratelimit.ProcessorLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

// Service is the cancellation batch coordinator: a query plus a bounded
// fan-out over the refund orchestrator. Idempotent retry already lives
// in the orchestrator, so the coordinator holds no saga state.
type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	orders     orderdomain.Repository
	refunds    refunddomain.Repository
	refundSvc  refunddomain.Service
	policy     *config.RefundPolicyHolder
	limiter    *ratelimit.ProcessorLimiter
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) cancellationdomain.Service {
	return &Service{
		log:        p.Log.Named("cancellation.service"),
		clock:      p.Clock,
		orders:     p.Orders,
		refunds:    p.Refunds,
		refundSvc:  p.RefundSvc,
		policy:     p.Policy,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) RefundAllOrders(ctx context.Context, eventID, actorID snowflake.ID) (cancellationdomain.BatchResult, error) {
	orders, refundsByOrder, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return cancellationdomain.BatchResult{}, err
	}

	var candidates []snowflake.ID
	for _, order := range orders {
		if order.Platform == orderdomain.PlatformCash {
			continue
		}
		if order.PaymentStatus != orderdomain.PaymentStatusPaid &&
			order.PaymentStatus != orderdomain.PaymentStatusFailed {
			continue
		}
		if refund, ok := refundsByOrder[order.ID]; ok && refund.Status == refunddomain.RefundStatusCompleted {
			continue
		}
		candidates = append(candidates, order.ID)
	}

	concurrency := s.policy.Get().BatchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	// Each order appears once in the enumeration, so per-order attempts
	// are never parallelized; the semaphore only caps total fan-out.
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, orderID := range candidates {
		wg.Add(1)
		go func(orderID snowflake.ID) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := s.limiter.Wait(ctx); err != nil {
				s.obsMetrics.RecordBatchOrder("cancelled")
				return
			}

			refund, err := s.refundSvc.RefundOrder(ctx, eventID, orderID, refunddomain.ReasonEventCancelled, actorID)
			switch {
			case err == nil:
				s.obsMetrics.RecordBatchOrder(obsmetrics.RefundOutcomeCompleted)
			case refund != nil:
				s.obsMetrics.RecordBatchOrder(obsmetrics.RefundOutcomeFailed)
			default:
				s.obsMetrics.RecordBatchOrder("error")
				s.log.Warn("batch refund skipped order",
					zap.String("order_id", orderID.String()), zap.Error(err))
			}
		}(orderID)
	}
	wg.Wait()

	result, err := s.BatchStatus(ctx, eventID)
	if err != nil {
		return cancellationdomain.BatchResult{}, err
	}
	result.InitiatedBy = actorID
	result.InitiatedAt = s.clock.Now()
	return result, nil
}

func (s *Service) BatchStatus(ctx context.Context, eventID snowflake.ID) (cancellationdomain.BatchResult, error) {
	orders, refundsByOrder, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return cancellationdomain.BatchResult{}, err
	}

	result := cancellationdomain.BatchResult{EventID: eventID}
	for _, order := range orders {
		if order.PaymentStatus == orderdomain.PaymentStatusPending {
			continue
		}
		result.TotalOrders++

		refund, hasRefund := refundsByOrder[order.ID]
		if hasRefund && refund.Status == refunddomain.RefundStatusCompleted {
			result.Completed++
			continue
		}

		result.OutstandingAmount += order.TotalAmount
		if order.Platform == orderdomain.PlatformCash {
			result.CashPendingOrderIDs = append(result.CashPendingOrderIDs, order.ID)
		}

		if !hasRefund {
			result.Pending++
			continue
		}
		switch refund.Status {
		case refunddomain.RefundStatusProcessing:
			result.Processing++
		case refunddomain.RefundStatusFailed:
			result.Failed++
		default:
			result.Pending++
		}
	}
	return result, nil
}

func (s *Service) loadEvent(ctx context.Context, eventID snowflake.ID) ([]orderdomain.Order, map[snowflake.ID]refunddomain.Refund, error) {
	orders, err := s.orders.FindByEvent(ctx, eventID, orderdomain.ListFilter{})
	if err != nil {
		return nil, nil, err
	}
	refunds, err := s.refunds.FindByEvent(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	byOrder := make(map[snowflake.ID]refunddomain.Refund, len(refunds))
	for _, refund := range refunds {
		byOrder[refund.OrderID] = refund
	}
	return orders, byOrder, nil
}

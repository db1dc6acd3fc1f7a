package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/stagepass/stagepass/internal/clock"
	"github.com/stagepass/stagepass/internal/config"
	ledgerdomain "github.com/stagepass/stagepass/internal/ledger/domain"
	obsmetrics "github.com/stagepass/stagepass/internal/observability/metrics"
	orderdomain "github.com/stagepass/stagepass/internal/order/domain"
	processordomain "github.com/stagepass/stagepass/internal/processor/domain"
	refunddomain "github.com/stagepass/stagepass/internal/refund/domain"
	"github.com/stagepass/stagepass/pkg/db"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Orders      orderdomain.Repository
	Refunds     refunddomain.Repository
	Gateway     processordomain.Gateway
	Credentials processordomain.CredentialProvider
	Ledger      ledgerdomain.Service
	Policy      *config.RefundPolicyHolder
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

// Service is the refund orchestrator. Correctness rests on two
// mechanisms, not on locks: the refund id is the processor idempotency
// key (stable across retries), and every state write is conditional on
// the expected prior status.
type Service struct {
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	orders      orderdomain.Repository
	refunds     refunddomain.Repository
	gateway     processordomain.Gateway
	credentials processordomain.CredentialProvider
	ledger      ledgerdomain.Service
	policy      *config.RefundPolicyHolder
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) refunddomain.Service {
	return &Service{
		log:         p.Log.Named("refund.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		orders:      p.Orders,
		refunds:     p.Refunds,
		gateway:     p.Gateway,
		credentials: p.Credentials,
		ledger:      p.Ledger,
		policy:      p.Policy,
		obsMetrics:  p.ObsMetrics,
	}
}

const maxAttemptDetail = 4096

func (s *Service) RefundOrder(
	ctx context.Context,
	eventID, orderID snowflake.ID,
	reason refunddomain.RefundReason,
	actorID snowflake.ID,
) (*refunddomain.Refund, error) {
	if reason == "" {
		reason = refunddomain.ReasonOther
	}
	if !reason.Valid() {
		return nil, refunddomain.ErrInvalidReason
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrOrderNotFound
	}
	if order.EventID != eventID {
		return nil, orderdomain.ErrEventMismatch
	}

	refund, err := s.acquireRefund(ctx, order, reason, actorID)
	if err != nil {
		return refund, err
	}
	if refund.Status == refunddomain.RefundStatusCompleted {
		s.obsMetrics.RecordRefundOutcome(obsmetrics.RefundOutcomeShortCircuit, string(refund.Reason))
		return refund, nil
	}

	cred, err := s.credentials.MarketplaceCredential(ctx)
	if err != nil {
		return nil, err
	}

	paymentRef := ""
	if order.ProcessorPaymentRef != nil {
		paymentRef = *order.ProcessorPaymentRef
	}

	policy := s.policy.Get()
	callCtx, cancel := context.WithTimeout(ctx, policy.ProcessorTimeout)
	defer cancel()

	start := time.Now()
	result, callErr := s.gateway.RefundPayment(callCtx, cred, paymentRef, refund.IdempotencyKey())
	elapsed := time.Since(start)

	switch {
	case callErr == nil:
		s.obsMetrics.RecordProcessorCall(obsmetrics.ProcessorResultSuccess, elapsed)
		return s.completeRefund(ctx, order, refund, result)
	case processordomain.IsTimeout(callErr):
		s.obsMetrics.RecordProcessorCall(obsmetrics.ProcessorResultTimeout, elapsed)
		return s.recordTimeout(ctx, order, refund, callErr)
	default:
		s.obsMetrics.RecordProcessorCall(obsmetrics.ProcessorResultError, elapsed)
		return s.recordFailure(ctx, order, refund, callErr)
	}
}

// acquireRefund loads or creates the refund for the order and moves it
// into processing. The returned refund may already be completed, in
// which case the caller must short-circuit without a processor call.
func (s *Service) acquireRefund(
	ctx context.Context,
	order *orderdomain.Order,
	reason refunddomain.RefundReason,
	actorID snowflake.ID,
) (*refunddomain.Refund, error) {
	retries := s.policy.Get().ConflictRetries

	for attempt := 0; attempt <= retries; attempt++ {
		refund, err := s.refunds.FindByOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}

		if refund != nil && refund.Status == refunddomain.RefundStatusCompleted {
			return refund, nil
		}

		if order.Platform == orderdomain.PlatformCash {
			return nil, refunddomain.ErrUnsupportedChannel
		}
		if order.PaymentStatus != orderdomain.PaymentStatusPaid &&
			order.PaymentStatus != orderdomain.PaymentStatusFailed {
			return nil, orderdomain.ErrOrderNotPaid
		}

		if refund == nil {
			created, err := s.createRefund(ctx, order, reason, actorID)
			if err != nil {
				if db.IsDuplicateKeyErr(err) {
					// Lost the insert race; re-read and retry.
					continue
				}
				return nil, err
			}
			return created, nil
		}

		if refund.OutcomeUnknown() {
			return refund, refunddomain.ErrOutcomeUnknown
		}

		expected := refund.Status
		refund.Status = refunddomain.RefundStatusProcessing
		refund.FailureReason = nil
		refund.RetryCount++
		if err := refund.AppendAttempt(s.clock.Now(), refunddomain.AttemptOutcomeRetried, ""); err != nil {
			return nil, err
		}
		err = s.refunds.UpdateTransition(ctx, refund, expected)
		if err == nil {
			return refund, nil
		}
		if !errors.Is(err, refunddomain.ErrConflict) {
			return nil, err
		}
		// Missed the expected state; re-read and retry.
	}
	return nil, refunddomain.ErrConflict
}

func (s *Service) createRefund(
	ctx context.Context,
	order *orderdomain.Order,
	reason refunddomain.RefundReason,
	actorID snowflake.ID,
) (*refunddomain.Refund, error) {
	now := s.clock.Now()
	refund := &refunddomain.Refund{
		ID:                  s.genID.Generate(),
		OrderID:             order.ID,
		EventID:             order.EventID,
		Amount:              order.TotalAmount, // full refund; the organization absorbs fees
		Currency:            order.Currency,
		Reason:              reason,
		RequestedBy:         actorID,
		ProcessorPaymentRef: order.ProcessorPaymentRef,
		Status:              refunddomain.RefundStatusProcessing,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := refund.AppendAttempt(now, refunddomain.AttemptOutcomeStarted, ""); err != nil {
		return nil, err
	}
	if err := s.refunds.Insert(ctx, refund); err != nil {
		return nil, err
	}
	return refund, nil
}

func (s *Service) completeRefund(
	ctx context.Context,
	order *orderdomain.Order,
	refund *refunddomain.Refund,
	result processordomain.RefundResult,
) (*refunddomain.Refund, error) {
	now := s.clock.Now()
	refund.Status = refunddomain.RefundStatusCompleted
	refund.ProcessorRefundRef = &result.ProviderRefundID
	refund.FailureReason = nil
	refund.ProcessedAt = &now
	if err := refund.AppendAttempt(now, refunddomain.AttemptOutcomeCompleted, truncate(string(result.RawPayload))); err != nil {
		return nil, err
	}

	err := s.refunds.UpdateTransition(ctx, refund, refunddomain.RefundStatusProcessing)
	if errors.Is(err, refunddomain.ErrConflict) {
		// A concurrent call got there first. The payload converges to
		// the same terminal values, so take whatever was stored.
		stored, readErr := s.refunds.FindByOrder(ctx, order.ID)
		if readErr != nil {
			return nil, readErr
		}
		if stored == nil || stored.Status != refunddomain.RefundStatusCompleted {
			return nil, refunddomain.ErrConflict
		}
		refund = stored
	} else if err != nil {
		return nil, err
	}

	s.markOrderRefunded(ctx, order)
	s.postLedger(ctx, ledgerdomain.SourceTypeRefund, refund)

	s.obsMetrics.RecordRefundOutcome(obsmetrics.RefundOutcomeCompleted, string(refund.Reason))
	s.log.Info("refund completed",
		zap.String("refund_id", refund.ID.String()),
		zap.String("order_id", refund.OrderID.String()),
		zap.Int64("amount", refund.Amount),
	)
	return refund, nil
}

func (s *Service) recordTimeout(
	ctx context.Context,
	order *orderdomain.Order,
	refund *refunddomain.Refund,
	callErr error,
) (*refunddomain.Refund, error) {
	stored, err := s.markFailed(ctx, order, refund, refunddomain.FailureReasonTimeoutUnknown,
		refunddomain.AttemptOutcomeTimeout, callErr.Error())
	if err != nil {
		return stored, err
	}
	if stored.Status == refunddomain.RefundStatusCompleted {
		s.obsMetrics.RecordRefundOutcome(obsmetrics.RefundOutcomeShortCircuit, string(stored.Reason))
		return stored, nil
	}
	s.obsMetrics.RecordRefundOutcome(obsmetrics.RefundOutcomeFailed, refunddomain.FailureReasonTimeoutUnknown)
	s.log.Warn("processor call timed out, outcome unknown",
		zap.String("refund_id", stored.ID.String()),
		zap.String("order_id", stored.OrderID.String()),
	)
	return stored, refunddomain.ErrOutcomeUnknown
}

func (s *Service) recordFailure(
	ctx context.Context,
	order *orderdomain.Order,
	refund *refunddomain.Refund,
	callErr error,
) (*refunddomain.Refund, error) {
	reason := callErr.Error()
	var procErr *processordomain.ProcessorError
	if errors.As(callErr, &procErr) {
		reason = procErr.Code
	}

	stored, err := s.markFailed(ctx, order, refund, reason,
		refunddomain.AttemptOutcomeFailed, callErr.Error())
	if err != nil {
		return stored, err
	}
	if stored.Status == refunddomain.RefundStatusCompleted {
		s.obsMetrics.RecordRefundOutcome(obsmetrics.RefundOutcomeShortCircuit, string(stored.Reason))
		return stored, nil
	}
	s.obsMetrics.RecordRefundOutcome(obsmetrics.RefundOutcomeFailed, reason)
	s.log.Warn("processor rejected refund",
		zap.String("refund_id", stored.ID.String()),
		zap.String("order_id", stored.OrderID.String()),
		zap.String("reason", reason),
	)
	return stored, refunddomain.ErrProcessorFailure
}

// markFailed writes the failed state and flips the order to failed so
// the attempt is visible. If a faster concurrent call already wrote
// completed, that result is returned instead.
func (s *Service) markFailed(
	ctx context.Context,
	order *orderdomain.Order,
	refund *refunddomain.Refund,
	failureReason, attemptOutcome, detail string,
) (*refunddomain.Refund, error) {
	refund.Status = refunddomain.RefundStatusFailed
	refund.FailureReason = &failureReason
	if err := refund.AppendAttempt(s.clock.Now(), attemptOutcome, truncate(detail)); err != nil {
		return nil, err
	}

	err := s.refunds.UpdateTransition(ctx, refund, refunddomain.RefundStatusProcessing)
	if errors.Is(err, refunddomain.ErrConflict) {
		stored, readErr := s.refunds.FindByOrder(ctx, order.ID)
		if readErr != nil {
			return nil, readErr
		}
		if stored == nil {
			return nil, refunddomain.ErrConflict
		}
		return stored, nil
	}
	if err != nil {
		return nil, err
	}

	if order.PaymentStatus == orderdomain.PaymentStatusPaid {
		if err := s.orders.UpdateStatus(ctx, order.ID, orderdomain.PaymentStatusPaid, orderdomain.PaymentStatusFailed); err != nil &&
			!errors.Is(err, orderdomain.ErrStatusConflict) {
			s.log.Warn("order status update failed after refund failure",
				zap.String("order_id", order.ID.String()), zap.Error(err))
		}
	}
	return refund, nil
}

func (s *Service) CompleteCashRefund(
	ctx context.Context,
	eventID, orderID, actorID snowflake.ID,
) (*refunddomain.Refund, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrOrderNotFound
	}
	if order.EventID != eventID {
		return nil, orderdomain.ErrEventMismatch
	}
	if order.Platform != orderdomain.PlatformCash {
		return nil, refunddomain.ErrNotCashOrder
	}

	refund, err := s.refunds.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if refund != nil && refund.Status == refunddomain.RefundStatusCompleted {
		return refund, nil
	}
	if refund == nil && order.PaymentStatus != orderdomain.PaymentStatusPaid {
		return nil, orderdomain.ErrOrderNotPaid
	}

	now := s.clock.Now()
	if refund == nil {
		refund = &refunddomain.Refund{
			ID:          s.genID.Generate(),
			OrderID:     order.ID,
			EventID:     order.EventID,
			Amount:      order.TotalAmount,
			Currency:    order.Currency,
			Reason:      refunddomain.ReasonEventCancelled,
			RequestedBy: actorID,
			Status:      refunddomain.RefundStatusCompleted,
			ProcessedAt: &now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := refund.AppendAttempt(now, refunddomain.AttemptOutcomeCompleted, "manual cash confirmation"); err != nil {
			return nil, err
		}
		if err := s.refunds.Insert(ctx, refund); err != nil {
			if db.IsDuplicateKeyErr(err) {
				stored, readErr := s.refunds.FindByOrder(ctx, orderID)
				if readErr != nil {
					return nil, readErr
				}
				if stored != nil && stored.Status == refunddomain.RefundStatusCompleted {
					return stored, nil
				}
				return nil, refunddomain.ErrConflict
			}
			return nil, err
		}
	} else {
		expected := refund.Status
		refund.Status = refunddomain.RefundStatusCompleted
		refund.FailureReason = nil
		refund.ProcessedAt = &now
		if err := refund.AppendAttempt(now, refunddomain.AttemptOutcomeCompleted, "manual cash confirmation"); err != nil {
			return nil, err
		}
		if err := s.refunds.UpdateTransition(ctx, refund, expected); err != nil {
			return nil, err
		}
	}

	s.markOrderRefunded(ctx, order)
	s.postLedger(ctx, ledgerdomain.SourceTypeCashRefund, refund)

	s.obsMetrics.RecordRefundOutcome(obsmetrics.RefundOutcomeCash, string(refund.Reason))
	return refund, nil
}

func (s *Service) GetByOrder(ctx context.Context, orderID snowflake.ID) (*refunddomain.Refund, error) {
	refund, err := s.refunds.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if refund == nil {
		return nil, refunddomain.ErrRefundNotFound
	}
	return refund, nil
}

// markOrderRefunded moves the order to refunded from whichever prior
// state it is in. A miss is left for the reconciler rather than
// re-issuing any processor call.
func (s *Service) markOrderRefunded(ctx context.Context, order *orderdomain.Order) {
	for _, prior := range []orderdomain.PaymentStatus{
		orderdomain.PaymentStatusPaid,
		orderdomain.PaymentStatusFailed,
	} {
		err := s.orders.UpdateStatus(ctx, order.ID, prior, orderdomain.PaymentStatusRefunded)
		if err == nil {
			return
		}
		if !errors.Is(err, orderdomain.ErrStatusConflict) {
			s.log.Warn("order status update failed after refund completion",
				zap.String("order_id", order.ID.String()), zap.Error(err))
			return
		}
	}

	stored, err := s.orders.FindByID(ctx, order.ID)
	if err != nil || stored == nil || stored.PaymentStatus != orderdomain.PaymentStatusRefunded {
		s.log.Warn("order left unrefunded after completed refund, reconciler will repair",
			zap.String("order_id", order.ID.String()))
	}
}

func (s *Service) postLedger(ctx context.Context, sourceType ledgerdomain.LedgerSourceType, refund *refunddomain.Refund) {
	occurredAt := s.clock.Now()
	if refund.ProcessedAt != nil {
		occurredAt = *refund.ProcessedAt
	}
	if err := s.ledger.PostRefund(ctx, sourceType, refund.ID, refund.Amount, refund.Currency, occurredAt); err != nil {
		s.log.Warn("ledger posting failed for refund",
			zap.String("refund_id", refund.ID.String()), zap.Error(err))
	}
}

func truncate(detail string) string {
	if len(detail) > maxAttemptDetail {
		return detail[:maxAttemptDetail]
	}
	return detail
}

package reconciler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/stagepass/stagepass/internal/clock"
	"github.com/stagepass/stagepass/internal/config"
	ledgerdomain "github.com/stagepass/stagepass/internal/ledger/domain"
	obsmetrics "github.com/stagepass/stagepass/internal/observability/metrics"
	orderdomain "github.com/stagepass/stagepass/internal/order/domain"
	processordomain "github.com/stagepass/stagepass/internal/processor/domain"
	"github.com/stagepass/stagepass/internal/ratelimit"
	refunddomain "github.com/stagepass/stagepass/internal/refund/domain"
)

const (
	lockKey   = "refund:reconciler:lock"
	batchSize = 100
)

// A timeout-unknown marker is downgraded to this once the processor
// confirms no remote refund exists. Plain failed, retry allowed.
const failureReasonTimeout = "processor_timeout"

type Params struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	Orders      orderdomain.Repository
	Refunds     refunddomain.Repository
	Gateway     processordomain.Gateway
	Credentials processordomain.CredentialProvider
	Ledger      ledgerdomain.Service
	Policy      *config.RefundPolicyHolder
	Locker      *ratelimit.Locker   `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

// Reconciler repairs the two gaps the orchestrator can leave behind:
// a completed refund whose order write was missed, and a timeout whose
// remote outcome is unknown. It never issues a new processor refund.
type Reconciler struct {
	log         *zap.Logger
	clock       clock.Clock
	orders      orderdomain.Repository
	refunds     refunddomain.Repository
	gateway     processordomain.Gateway
	credentials processordomain.CredentialProvider
	ledger      ledgerdomain.Service
	policy      *config.RefundPolicyHolder
	locker      *ratelimit.Locker
	obsMetrics  *obsmetrics.Metrics
}

func New(p Params) *Reconciler {
	return &Reconciler{
		log:         p.Log.Named("reconciler"),
		clock:       p.Clock,
		orders:      p.Orders,
		refunds:     p.Refunds,
		gateway:     p.Gateway,
		credentials: p.Credentials,
		ledger:      p.Ledger,
		policy:      p.Policy,
		locker:      p.Locker,
		obsMetrics:  p.ObsMetrics,
	}
}

// RunForever runs reconciliation on the configured cadence until ctx
// is cancelled.
func (r *Reconciler) RunForever(ctx context.Context) {
	interval := r.policy.Get().ReconcileInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.log.Warn("reconciliation run failed", zap.Error(err))
			}
		}
	}
}

// RunOnce executes a single reconciliation pass. When a distributed
// lock is configured, only one replica runs the pass per cadence.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	if r.locker != nil {
		ttl := r.policy.Get().ReconcileLockTTL
		token, ok, err := r.locker.TryLock(ctx, lockKey, ttl)
		if err != nil {
			r.log.Warn("reconciler lock unavailable, running unlocked", zap.Error(err))
		} else if !ok {
			return nil
		} else {
			defer func() {
				if err := r.locker.Release(ctx, lockKey, token); err != nil {
					r.log.Warn("reconciler lock release failed", zap.Error(err))
				}
			}()
		}
	}

	if err := r.repairOrderStatuses(ctx); err != nil {
		return err
	}
	return r.resolveUnknownOutcomes(ctx)
}

// repairOrderStatuses finishes the order half of a completed refund's
// two-write transition.
func (r *Reconciler) repairOrderStatuses(ctx context.Context) error {
	refunds, err := r.refunds.ListCompletedWithUnrefundedOrder(ctx, batchSize)
	if err != nil {
		return err
	}

	for _, refund := range refunds {
		repaired := false
		for _, prior := range []orderdomain.PaymentStatus{
			orderdomain.PaymentStatusPaid,
			orderdomain.PaymentStatusFailed,
			orderdomain.PaymentStatusPending,
		} {
			err := r.orders.UpdateStatus(ctx, refund.OrderID, prior, orderdomain.PaymentStatusRefunded)
			if err == nil {
				repaired = true
				break
			}
			if !errors.Is(err, orderdomain.ErrStatusConflict) {
				return err
			}
		}
		if !repaired {
			continue
		}

		sourceType := ledgerdomain.SourceTypeRefund
		if refund.ProcessorPaymentRef == nil {
			sourceType = ledgerdomain.SourceTypeCashRefund
		}
		occurredAt := r.clock.Now()
		if refund.ProcessedAt != nil {
			occurredAt = *refund.ProcessedAt
		}
		if err := r.ledger.PostRefund(ctx, sourceType, refund.ID, refund.Amount, refund.Currency, occurredAt); err != nil {
			r.log.Warn("ledger posting failed during reconciliation",
				zap.String("refund_id", refund.ID.String()), zap.Error(err))
		}

		r.obsMetrics.RecordReconcilerRepair(obsmetrics.ReconcileKindOrderStatus)
		r.log.Info("repaired order status for completed refund",
			zap.String("refund_id", refund.ID.String()),
			zap.String("order_id", refund.OrderID.String()),
		)
	}
	return nil
}

// resolveUnknownOutcomes queries the processor for refunds whose last
// call timed out. A refund found remotely is promoted to completed; one
// not found has its marker cleared so a manual retry may proceed.
func (r *Reconciler) resolveUnknownOutcomes(ctx context.Context) error {
	refunds, err := r.refunds.ListOutcomeUnknown(ctx, batchSize)
	if err != nil {
		return err
	}
	if len(refunds) == 0 {
		return nil
	}

	cred, err := r.credentials.MarketplaceCredential(ctx)
	if err != nil {
		return err
	}

	for i := range refunds {
		refund := &refunds[i]

		paymentRef := ""
		if refund.ProcessorPaymentRef != nil {
			paymentRef = *refund.ProcessorPaymentRef
		}

		result, found, err := r.gateway.LookupRefund(ctx, cred, paymentRef, refund.IdempotencyKey())
		if err != nil {
			r.log.Warn("processor lookup failed",
				zap.String("refund_id", refund.ID.String()), zap.Error(err))
			continue
		}

		if found && remoteSucceeded(result.Status) {
			if err := r.promoteToCompleted(ctx, refund, result); err != nil {
				return err
			}
			continue
		}
		if err := r.clearTimeoutMarker(ctx, refund, found, result); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) promoteToCompleted(ctx context.Context, refund *refunddomain.Refund, result processordomain.RefundResult) error {
	now := r.clock.Now()
	refund.Status = refunddomain.RefundStatusCompleted
	refund.ProcessorRefundRef = &result.ProviderRefundID
	refund.FailureReason = nil
	refund.ProcessedAt = &now
	if err := refund.AppendAttempt(now, refunddomain.AttemptOutcomeResolved, "remote refund found during reconciliation"); err != nil {
		return err
	}

	err := r.refunds.UpdateTransition(ctx, refund, refunddomain.RefundStatusFailed)
	if errors.Is(err, refunddomain.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, prior := range []orderdomain.PaymentStatus{
		orderdomain.PaymentStatusPaid,
		orderdomain.PaymentStatusFailed,
	} {
		if err := r.orders.UpdateStatus(ctx, refund.OrderID, prior, orderdomain.PaymentStatusRefunded); err == nil {
			break
		} else if !errors.Is(err, orderdomain.ErrStatusConflict) {
			r.log.Warn("order status update failed during reconciliation",
				zap.String("order_id", refund.OrderID.String()), zap.Error(err))
			break
		}
	}

	if err := r.ledger.PostRefund(ctx, ledgerdomain.SourceTypeRefund, refund.ID, refund.Amount, refund.Currency, now); err != nil {
		r.log.Warn("ledger posting failed during reconciliation",
			zap.String("refund_id", refund.ID.String()), zap.Error(err))
	}

	r.obsMetrics.RecordReconcilerRepair(obsmetrics.ReconcileKindOutcomeKnown)
	r.log.Info("resolved timed-out refund as completed",
		zap.String("refund_id", refund.ID.String()),
		zap.String("order_id", refund.OrderID.String()),
	)
	return nil
}

func (r *Reconciler) clearTimeoutMarker(ctx context.Context, refund *refunddomain.Refund, found bool, result processordomain.RefundResult) error {
	detail := "no remote refund found"
	reason := failureReasonTimeout
	if found {
		detail = "remote refund in state " + result.Status
		reason = "processor_refund_" + result.Status
	}

	failureReason := reason
	refund.Status = refunddomain.RefundStatusFailed
	refund.FailureReason = &failureReason
	if err := refund.AppendAttempt(r.clock.Now(), refunddomain.AttemptOutcomeResolved, detail); err != nil {
		return err
	}

	err := r.refunds.UpdateTransition(ctx, refund, refunddomain.RefundStatusFailed)
	if errors.Is(err, refunddomain.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	r.obsMetrics.RecordReconcilerRepair(obsmetrics.ReconcileKindRetryCleared)
	r.log.Info("cleared timeout marker, retry allowed",
		zap.String("refund_id", refund.ID.String()),
		zap.String("order_id", refund.OrderID.String()),
	)
	return nil
}

func remoteSucceeded(status string) bool {
	switch status {
	case "succeeded", "pending":
		// Stripe reports pending refunds that will settle; treat both as
		// settled so no duplicate is ever issued.
		return true
	default:
		return false
	}
}

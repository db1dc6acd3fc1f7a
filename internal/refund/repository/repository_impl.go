package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	refunddomain "github.com/stagepass/stagepass/internal/refund/domain"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) refunddomain.Repository {
	return &repository{db: db}
}

const refundColumns = `id, order_id, event_id, amount, currency, reason, requested_by,
	processor_payment_ref, processor_refund_ref, status, failure_reason,
	attempts, retry_count, processed_at, created_at, updated_at`

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*refunddomain.Refund, error) {
	var refund refunddomain.Refund
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+refundColumns+` FROM refunds WHERE id = ?`,
		id,
	).Scan(&refund).Error
	if err != nil {
		return nil, err
	}
	if refund.ID == 0 {
		return nil, nil
	}
	return &refund, nil
}

func (r *repository) FindByOrder(ctx context.Context, orderID snowflake.ID) (*refunddomain.Refund, error) {
	var refund refunddomain.Refund
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+refundColumns+` FROM refunds WHERE order_id = ?`,
		orderID,
	).Scan(&refund).Error
	if err != nil {
		return nil, err
	}
	if refund.ID == 0 {
		return nil, nil
	}
	return &refund, nil
}

func (r *repository) FindByEvent(ctx context.Context, eventID snowflake.ID) ([]refunddomain.Refund, error) {
	var refunds []refunddomain.Refund
	err := r.db.WithContext(ctx).
		Model(&refunddomain.Refund{}).
		Where("event_id = ?", eventID).
		Order("id ASC").
		Find(&refunds).Error
	if err != nil {
		return nil, err
	}
	return refunds, nil
}

func (r *repository) Insert(ctx context.Context, refund *refunddomain.Refund) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO refunds (
			id, order_id, event_id, amount, currency, reason, requested_by,
			processor_payment_ref, processor_refund_ref, status, failure_reason,
			attempts, retry_count, processed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		refund.ID,
		refund.OrderID,
		refund.EventID,
		refund.Amount,
		refund.Currency,
		refund.Reason,
		refund.RequestedBy,
		refund.ProcessorPaymentRef,
		refund.ProcessorRefundRef,
		refund.Status,
		refund.FailureReason,
		refund.Attempts,
		refund.RetryCount,
		refund.ProcessedAt,
		refund.CreatedAt,
		refund.UpdatedAt,
	).Error
}

func (r *repository) UpdateTransition(ctx context.Context, refund *refunddomain.Refund, expected refunddomain.RefundStatus) error {
	refund.UpdatedAt = time.Now().UTC()
	result := r.db.WithContext(ctx).Exec(
		`UPDATE refunds
		 SET status = ?, failure_reason = ?, processor_refund_ref = ?,
		     attempts = ?, retry_count = ?, processed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		refund.Status,
		refund.FailureReason,
		refund.ProcessorRefundRef,
		refund.Attempts,
		refund.RetryCount,
		refund.ProcessedAt,
		refund.UpdatedAt,
		refund.ID,
		expected,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return refunddomain.ErrConflict
	}
	return nil
}

func (r *repository) ListOutcomeUnknown(ctx context.Context, limit int) ([]refunddomain.Refund, error) {
	var refunds []refunddomain.Refund
	err := r.db.WithContext(ctx).
		Model(&refunddomain.Refund{}).
		Where("status = ? AND failure_reason = ?", refunddomain.RefundStatusFailed, refunddomain.FailureReasonTimeoutUnknown).
		Order("updated_at ASC").
		Limit(limit).
		Find(&refunds).Error
	if err != nil {
		return nil, err
	}
	return refunds, nil
}

func (r *repository) ListCompletedWithUnrefundedOrder(ctx context.Context, limit int) ([]refunddomain.Refund, error) {
	var refunds []refunddomain.Refund
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+prefixedRefundColumns("r")+`
		 FROM refunds r
		 JOIN orders o ON o.id = r.order_id
		 WHERE r.status = ? AND o.payment_status <> ?
		 ORDER BY r.updated_at ASC
		 LIMIT ?`,
		refunddomain.RefundStatusCompleted,
		"refunded",
		limit,
	).Scan(&refunds).Error
	if err != nil {
		return nil, err
	}
	return refunds, nil
}

func prefixedRefundColumns(alias string) string {
	return alias + `.id, ` + alias + `.order_id, ` + alias + `.event_id, ` + alias + `.amount,
	` + alias + `.currency, ` + alias + `.reason, ` + alias + `.requested_by,
	` + alias + `.processor_payment_ref, ` + alias + `.processor_refund_ref,
	` + alias + `.status, ` + alias + `.failure_reason, ` + alias + `.attempts,
	` + alias + `.retry_count, ` + alias + `.processed_at, ` + alias + `.created_at, ` + alias + `.updated_at`
}

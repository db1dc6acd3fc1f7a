package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Service is the refund orchestrator: the only component allowed to
// move refunds and order payment states through their lifecycle.
type Service interface {
	// RefundOrder settles one processor-paid order. Safe to call
	// repeatedly: a completed refund short-circuits, a failed one is
	// retried under the same refund id and idempotency key.
	RefundOrder(ctx context.Context, eventID, orderID snowflake.ID, reason RefundReason, actorID snowflake.ID) (*Refund, error)
	// CompleteCashRefund records a manually confirmed refund for a cash
	// order. No processor call is made.
	CompleteCashRefund(ctx context.Context, eventID, orderID, actorID snowflake.ID) (*Refund, error)
	// GetByOrder returns the refund for an order, or ErrRefundNotFound.
	GetByOrder(ctx context.Context, orderID snowflake.ID) (*Refund, error)
}

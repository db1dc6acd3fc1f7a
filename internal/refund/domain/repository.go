package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Repository is the persistence surface for refund records. Transitions
// are conditional on the expected prior status so a slow writer cannot
// clobber a faster retry's result.
type Repository interface {
	FindByID(ctx context.Context, id snowflake.ID) (*Refund, error)
	FindByOrder(ctx context.Context, orderID snowflake.ID) (*Refund, error)
	FindByEvent(ctx context.Context, eventID snowflake.ID) ([]Refund, error)
	// Insert creates a new refund row. The unique index on order_id
	// rejects a second refund for the same order; callers should re-read
	// on a duplicate-key error.
	Insert(ctx context.Context, refund *Refund) error
	// UpdateTransition writes the refund's mutable fields if its stored
	// status still equals expected. Returns ErrConflict otherwise.
	UpdateTransition(ctx context.Context, refund *Refund, expected RefundStatus) error
	// ListOutcomeUnknown returns failed refunds carrying the
	// timeout-unknown marker, oldest first.
	ListOutcomeUnknown(ctx context.Context, limit int) ([]Refund, error)
	// ListCompletedWithUnrefundedOrder returns completed refunds whose
	// order never reached refunded status, oldest first.
	ListCompletedWithUnrefundedOrder(ctx context.Context, limit int) ([]Refund, error)
}

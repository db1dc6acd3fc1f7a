package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// BatchResult is the aggregate progress of refunding one cancelled
// event. It is recomputed from stored orders and refunds on every call;
// the coordinator keeps no state of its own, so resuming after a crash
// is just running the batch again.
type BatchResult struct {
	EventID     snowflake.ID `json:"event_id"`
	TotalOrders int          `json:"total_orders"`

	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`

	// OutstandingAmount is the gross minor-unit total still to be
	// returned to buyers.
	OutstandingAmount int64 `json:"outstanding_amount"`

	// CashPendingOrderIDs are cash orders awaiting manual confirmation;
	// the coordinator never auto-refunds them.
	CashPendingOrderIDs []snowflake.ID `json:"cash_pending_order_ids"`

	InitiatedBy snowflake.ID `json:"initiated_by,omitempty"`
	InitiatedAt time.Time    `json:"initiated_at,omitempty"`
}

// Service drives refunds for all orders of a cancelled event.
type Service interface {
	// RefundAllOrders fans the refund orchestrator out over every
	// eligible order of the event and returns the recomputed aggregate.
	RefundAllOrders(ctx context.Context, eventID, actorID snowflake.ID) (BatchResult, error)
	// BatchStatus recomputes the aggregate without driving any refunds.
	BatchStatus(ctx context.Context, eventID snowflake.ID) (BatchResult, error)
}

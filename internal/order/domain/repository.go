package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Repository is the ledger-store read/write surface for orders. Status
// updates are conditional on the expected prior state so a slow writer
// cannot clobber a faster one.
type Repository interface {
	FindByID(ctx context.Context, id snowflake.ID) (*Order, error)
	FindByEvent(ctx context.Context, eventID snowflake.ID, filter ListFilter) ([]Order, error)
	Create(ctx context.Context, order *Order) error
	UpdateStatus(ctx context.Context, id snowflake.ID, expected, next PaymentStatus) error
}

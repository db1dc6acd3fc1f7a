package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Platform is the sales channel an order was placed through.
type Platform string

const (
	PlatformGateway Platform = "gateway"
	PlatformInApp   Platform = "in_app"
	PlatformCash    Platform = "cash"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformGateway, PlatformInApp, PlatformCash:
		return true
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusFailed   PaymentStatus = "failed"
)

// Order is a buyer's purchase for one event. All money fields are minor
// units (cents); integer arithmetic keeps fee/tax netting exact.
type Order struct {
	ID                  snowflake.ID  `json:"id" gorm:"primaryKey"`
	EventID             snowflake.ID  `json:"event_id" gorm:"not null;index"`
	BuyerID             snowflake.ID  `json:"buyer_id" gorm:"not null"`
	TotalAmount         int64         `json:"total_amount" gorm:"not null"`
	Currency            string        `json:"currency" gorm:"type:text;not null"`
	Platform            Platform      `json:"platform" gorm:"type:text;not null"`
	TicketCount         int           `json:"ticket_count" gorm:"not null;default:0"`
	PaymentStatus       PaymentStatus `json:"payment_status" gorm:"type:text;not null;default:pending"`
	ProcessorPaymentRef *string       `json:"processor_payment_ref" gorm:"type:text"`
	MarketplaceFee      int64         `json:"marketplace_fee" gorm:"not null;default:0"`
	ProcessorFee        int64         `json:"processor_fee" gorm:"not null;default:0"`
	TaxWithholdingA     int64         `json:"tax_withholding_a" gorm:"not null;default:0"`
	TaxWithholdingB     int64         `json:"tax_withholding_b" gorm:"not null;default:0"`
	CreatedAt           time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time     `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Order) TableName() string { return "orders" }

// ListFilter narrows event order queries.
type ListFilter struct {
	PaymentStatus PaymentStatus
}

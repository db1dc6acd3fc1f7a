package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// LedgerEntryDirection represents debit or credit postings.
type LedgerEntryDirection string

const (
	LedgerEntryDirectionDebit  LedgerEntryDirection = "debit"
	LedgerEntryDirectionCredit LedgerEntryDirection = "credit"
)

type LedgerSourceType string

const (
	// SourceTypeRefund is a processor-settled refund; source id is the
	// refund record.
	SourceTypeRefund LedgerSourceType = "refund"
	// SourceTypeCashRefund is a manually confirmed cash refund.
	SourceTypeCashRefund LedgerSourceType = "cash_refund"
)

type LedgerAccountCode string

const (
	// Assets
	AccountCodeCash LedgerAccountCode = "cash"

	// Revenue
	AccountCodeTicketRevenue LedgerAccountCode = "ticket_revenue"

	// Liabilities
	AccountCodeRefundLiab LedgerAccountCode = "refund_liability"
)

// LedgerAccount defines a chart-of-accounts entry.
type LedgerAccount struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	Code      LedgerAccountCode `gorm:"type:text;not null;uniqueIndex:ux_ledger_accounts_code"`
	Name      string            `gorm:"type:text;not null"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerAccount) TableName() string { return "ledger_accounts" }

// LedgerEntry captures the immutable header for a financial event.
// (source_type, source_id) is unique, which makes posting idempotent.
type LedgerEntry struct {
	ID         snowflake.ID     `gorm:"primaryKey"`
	SourceType LedgerSourceType `gorm:"type:text;not null;index"`
	SourceID   snowflake.ID     `gorm:"not null;index"`
	Currency   string           `gorm:"type:text;not null"`
	OccurredAt time.Time        `gorm:"not null"`
	CreatedAt  time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// LedgerEntryLine is a double-entry posting line.
type LedgerEntryLine struct {
	ID            snowflake.ID         `gorm:"primaryKey"`
	LedgerEntryID snowflake.ID         `gorm:"not null;index"`
	AccountID     snowflake.ID         `gorm:"not null;index"`
	Direction     LedgerEntryDirection `gorm:"type:text;not null"`
	Amount        int64                `gorm:"not null"`
	CreatedAt     time.Time            `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerEntryLine) TableName() string { return "ledger_entry_lines" }

// Service posts balanced double-entry records for settled refunds.
type Service interface {
	// CreateEntry inserts an entry plus its lines. A repeated call with
	// the same (sourceType, sourceID) is a no-op.
	CreateEntry(ctx context.Context, sourceType LedgerSourceType, sourceID snowflake.ID, currency string, occurredAt time.Time, lines []LedgerEntryLine) error
	// PostRefund records a completed refund: ticket revenue reversed,
	// cash paid back out.
	PostRefund(ctx context.Context, sourceType LedgerSourceType, refundID snowflake.ID, amount int64, currency string, occurredAt time.Time) error
}

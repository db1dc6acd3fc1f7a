package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "pending"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusFailed     RefundStatus = "failed"
)

type RefundReason string

const (
	ReasonEventCancelled RefundReason = "event_cancelled"
	ReasonBuyerRequested RefundReason = "buyer_requested"
	ReasonOther          RefundReason = "other"
)

func (r RefundReason) Valid() bool {
	switch r {
	case ReasonEventCancelled, ReasonBuyerRequested, ReasonOther:
		return true
	default:
		return false
	}
}

// FailureReasonTimeoutUnknown marks a processor call that timed out with
// an unknown outcome. A refund carrying this marker must not be retried
// until the reconciler has queried the processor for the real result.
const FailureReasonTimeoutUnknown = "processor_timeout_outcome_unknown"

// RefundAttempt is one entry in a refund's append-only attempt log.
type RefundAttempt struct {
	At      time.Time `json:"at"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
}

const (
	AttemptOutcomeStarted   = "started"
	AttemptOutcomeRetried   = "retried"
	AttemptOutcomeCompleted = "completed"
	AttemptOutcomeFailed    = "failed"
	AttemptOutcomeTimeout   = "timeout_unknown"
	AttemptOutcomeResolved  = "reconciled"
)

// Refund is the settlement record for reversing one order's payment.
// At most one refund exists per order; its snowflake id doubles as the
// processor idempotency key, stable across retries.
type Refund struct {
	ID                  snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrderID             snowflake.ID   `json:"order_id" gorm:"not null;uniqueIndex:ux_refunds_order"`
	EventID             snowflake.ID   `json:"event_id" gorm:"not null;index"`
	Amount              int64          `json:"amount" gorm:"not null"`
	Currency            string         `json:"currency" gorm:"type:text;not null"`
	Reason              RefundReason   `json:"reason" gorm:"type:text;not null"`
	RequestedBy         snowflake.ID   `json:"requested_by" gorm:"not null"`
	ProcessorPaymentRef *string        `json:"processor_payment_ref" gorm:"type:text"`
	ProcessorRefundRef  *string        `json:"processor_refund_ref" gorm:"type:text"`
	Status              RefundStatus   `json:"status" gorm:"type:text;not null;default:pending"`
	FailureReason       *string        `json:"failure_reason" gorm:"type:text"`
	Attempts            datatypes.JSON `json:"attempts" gorm:"type:jsonb"`
	RetryCount          int            `json:"retry_count" gorm:"not null;default:0"`
	ProcessedAt         *time.Time     `json:"processed_at"`
	CreatedAt           time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Refund) TableName() string { return "refunds" }

// IdempotencyKey is the token sent with every processor call for this
// refund. Repeating a call with the same key must not create a second
// remote refund.
func (r *Refund) IdempotencyKey() string {
	return r.ID.String()
}

// OutcomeUnknown reports whether the last attempt timed out without a
// known result.
func (r *Refund) OutcomeUnknown() bool {
	return r.Status == RefundStatusFailed &&
		r.FailureReason != nil &&
		*r.FailureReason == FailureReasonTimeoutUnknown
}

// AttemptLog decodes the append-only attempt history.
func (r *Refund) AttemptLog() ([]RefundAttempt, error) {
	if len(r.Attempts) == 0 {
		return nil, nil
	}
	var attempts []RefundAttempt
	if err := json.Unmarshal(r.Attempts, &attempts); err != nil {
		return nil, err
	}
	return attempts, nil
}

// AppendAttempt adds one attempt record to the log.
func (r *Refund) AppendAttempt(at time.Time, outcome, detail string) error {
	attempts, err := r.AttemptLog()
	if err != nil {
		return err
	}
	attempts = append(attempts, RefundAttempt{At: at.UTC(), Outcome: outcome, Detail: detail})
	encoded, err := json.Marshal(attempts)
	if err != nil {
		return err
	}
	r.Attempts = datatypes.JSON(encoded)
	return nil
}

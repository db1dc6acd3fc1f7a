package domain

import "errors"

var (
	// ErrRefundNotFound means no refund exists for the order.
	ErrRefundNotFound = errors.New("refund_not_found")
	// ErrUnsupportedChannel means the order was paid by cash; there is
	// no processor payment to reverse, so it must go through the manual
	// cash-completion path.
	ErrUnsupportedChannel = errors.New("unsupported_channel")
	// ErrNotCashOrder means cash completion was requested for an order
	// paid through a processor.
	ErrNotCashOrder = errors.New("not_cash_order")
	// ErrInvalidReason means the refund reason is not one of the known
	// values.
	ErrInvalidReason = errors.New("invalid_refund_reason")
	// ErrConflict means optimistic updates kept missing their expected
	// prior state even after re-reading, within the retry budget.
	ErrConflict = errors.New("refund_conflict")
	// ErrOutcomeUnknown means the last processor call timed out and the
	// refund must be reconciled against the processor before any retry.
	ErrOutcomeUnknown = errors.New("refund_outcome_unknown")
	// ErrProcessorFailure means the processor rejected the refund; the
	// failure is recorded on the refund and a retry may be submitted.
	ErrProcessorFailure = errors.New("processor_failure")
)

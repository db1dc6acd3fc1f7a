package domain

import (
	orderdomain "github.com/stagepass/stagepass/internal/order/domain"
)

// ChannelSummary aggregates the money fields of the orders sold through
// one channel. All values are minor units.
type ChannelSummary struct {
	Gross           int64 `json:"gross"`
	TicketCount     int   `json:"ticket_count"`
	MarketplaceFee  int64 `json:"marketplace_fee"`
	ProcessorFee    int64 `json:"processor_fee"`
	TaxWithholdingA int64 `json:"tax_withholding_a"`
	TaxWithholdingB int64 `json:"tax_withholding_b"`
	Net             int64 `json:"net"`
}

// FinancialSummary is the per-channel and aggregate revenue picture for
// one event. Derived from order rows on demand, never stored.
type FinancialSummary struct {
	Channels map[orderdomain.Platform]ChannelSummary `json:"channels"`
	Totals   ChannelSummary                          `json:"totals"`
	// RefundedGross is the gross amount of refunded orders included in
	// the summary, reported as a separate line so historical reports can
	// show it as a negative adjustment. Zero when refunded orders are
	// excluded.
	RefundedGross int64 `json:"refunded_gross"`
}

// Summarize folds orders into channel-segmented gross/fee/tax/net
// figures. Only paid orders are counted; includeRefunded pulls refunded
// orders back in for historical reports. The fold is associative and
// commutative over the channel map, so input order does not matter.
func Summarize(orders []orderdomain.Order, includeRefunded bool) FinancialSummary {
	summary := FinancialSummary{
		Channels: make(map[orderdomain.Platform]ChannelSummary),
	}

	for _, order := range orders {
		switch order.PaymentStatus {
		case orderdomain.PaymentStatusPaid:
		case orderdomain.PaymentStatusRefunded:
			if !includeRefunded {
				continue
			}
			summary.RefundedGross += order.TotalAmount
		default:
			continue
		}

		ch := summary.Channels[order.Platform]
		ch.Gross += order.TotalAmount
		ch.TicketCount += order.TicketCount
		ch.MarketplaceFee += order.MarketplaceFee
		ch.ProcessorFee += order.ProcessorFee
		ch.TaxWithholdingA += order.TaxWithholdingA
		ch.TaxWithholdingB += order.TaxWithholdingB
		ch.Net = ch.Gross - ch.MarketplaceFee - ch.ProcessorFee - ch.TaxWithholdingA - ch.TaxWithholdingB
		summary.Channels[order.Platform] = ch
	}

	for _, ch := range summary.Channels {
		summary.Totals.Gross += ch.Gross
		summary.Totals.TicketCount += ch.TicketCount
		summary.Totals.MarketplaceFee += ch.MarketplaceFee
		summary.Totals.ProcessorFee += ch.ProcessorFee
		summary.Totals.TaxWithholdingA += ch.TaxWithholdingA
		summary.Totals.TaxWithholdingB += ch.TaxWithholdingB
	}
	summary.Totals.Net = summary.Totals.Gross -
		summary.Totals.MarketplaceFee -
		summary.Totals.ProcessorFee -
		summary.Totals.TaxWithholdingA -
		summary.Totals.TaxWithholdingB

	return summary
}

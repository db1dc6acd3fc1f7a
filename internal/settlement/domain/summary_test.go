package domain

import (
	"math/rand"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orderdomain "github.com/stagepass/stagepass/internal/order/domain"
)

func paidOrder(platform orderdomain.Platform, gross, mkFee, procFee, taxA, taxB int64, tickets int) orderdomain.Order {
	return orderdomain.Order{
		ID:              snowflake.ID(rand.Int63()),
		EventID:         1001,
		TotalAmount:     gross,
		Currency:        "USD",
		Platform:        platform,
		TicketCount:     tickets,
		PaymentStatus:   orderdomain.PaymentStatusPaid,
		MarketplaceFee:  mkFee,
		ProcessorFee:    procFee,
		TaxWithholdingA: taxA,
		TaxWithholdingB: taxB,
	}
}

func TestSummarizeNetsFeesAndTaxExactly(t *testing.T) {
	orders := []orderdomain.Order{
		paidOrder(orderdomain.PlatformGateway, 100000, 5000, 3000, 700, 300, 4),
		paidOrder(orderdomain.PlatformGateway, 25000, 1250, 750, 175, 75, 1),
		paidOrder(orderdomain.PlatformInApp, 40000, 2000, 1600, 280, 120, 2),
		paidOrder(orderdomain.PlatformCash, 15000, 0, 0, 105, 45, 1),
	}

	summary := Summarize(orders, false)

	gateway := summary.Channels[orderdomain.PlatformGateway]
	assert.Equal(t, int64(125000), gateway.Gross)
	assert.Equal(t, 5, gateway.TicketCount)
	assert.Equal(t, int64(6250), gateway.MarketplaceFee)
	assert.Equal(t, int64(3750), gateway.ProcessorFee)
	assert.Equal(t, int64(125000-6250-3750-875-375), gateway.Net)

	cash := summary.Channels[orderdomain.PlatformCash]
	assert.Equal(t, int64(15000), cash.Gross)
	assert.Equal(t, int64(15000-105-45), cash.Net)

	// Channel grosses sum to the total gross.
	var channelGross int64
	for _, ch := range summary.Channels {
		channelGross += ch.Gross
	}
	assert.Equal(t, summary.Totals.Gross, channelGross)
	assert.Equal(t, int64(180000), summary.Totals.Gross)
	assert.Equal(t, 8, summary.Totals.TicketCount)

	wantNet := summary.Totals.Gross -
		summary.Totals.MarketplaceFee -
		summary.Totals.ProcessorFee -
		summary.Totals.TaxWithholdingA -
		summary.Totals.TaxWithholdingB
	assert.Equal(t, wantNet, summary.Totals.Net)
	assert.Zero(t, summary.RefundedGross)
}

func TestSummarizeIsOrderIndependent(t *testing.T) {
	orders := []orderdomain.Order{
		paidOrder(orderdomain.PlatformGateway, 100000, 5000, 3000, 700, 300, 4),
		paidOrder(orderdomain.PlatformInApp, 40000, 2000, 1600, 280, 120, 2),
		paidOrder(orderdomain.PlatformCash, 15000, 0, 0, 105, 45, 1),
	}
	reversed := []orderdomain.Order{orders[2], orders[1], orders[0]}

	require.Equal(t, Summarize(orders, false), Summarize(reversed, false))
}

func TestSummarizeSkipsUnpaidOrders(t *testing.T) {
	pending := paidOrder(orderdomain.PlatformGateway, 50000, 2500, 1500, 350, 150, 2)
	pending.PaymentStatus = orderdomain.PaymentStatusPending
	failed := paidOrder(orderdomain.PlatformGateway, 30000, 1500, 900, 210, 90, 1)
	failed.PaymentStatus = orderdomain.PaymentStatusFailed

	summary := Summarize([]orderdomain.Order{
		pending,
		failed,
		paidOrder(orderdomain.PlatformGateway, 100000, 5000, 3000, 700, 300, 4),
	}, false)

	assert.Equal(t, int64(100000), summary.Totals.Gross)
	assert.Equal(t, 4, summary.Totals.TicketCount)
}

func TestSummarizeRefundedToggle(t *testing.T) {
	refunded := paidOrder(orderdomain.PlatformGateway, 60000, 3000, 1800, 420, 180, 3)
	refunded.PaymentStatus = orderdomain.PaymentStatusRefunded
	orders := []orderdomain.Order{
		refunded,
		paidOrder(orderdomain.PlatformGateway, 100000, 5000, 3000, 700, 300, 4),
	}

	excluded := Summarize(orders, false)
	assert.Equal(t, int64(100000), excluded.Totals.Gross)
	assert.Zero(t, excluded.RefundedGross)

	included := Summarize(orders, true)
	assert.Equal(t, int64(160000), included.Totals.Gross)
	assert.Equal(t, int64(60000), included.RefundedGross)
}

func TestSummarizeEmptyInput(t *testing.T) {
	summary := Summarize(nil, true)
	assert.Empty(t, summary.Channels)
	assert.Zero(t, summary.Totals.Gross)
	assert.Zero(t, summary.Totals.Net)
}

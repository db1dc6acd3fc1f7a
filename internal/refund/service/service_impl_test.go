package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass/internal/clock"
	"github.com/stagepass/stagepass/internal/config"
	ledgerdomain "github.com/stagepass/stagepass/internal/ledger/domain"
	ledgerservice "github.com/stagepass/stagepass/internal/ledger/service"
	orderdomain "github.com/stagepass/stagepass/internal/order/domain"
	orderrepository "github.com/stagepass/stagepass/internal/order/repository"
	processordomain "github.com/stagepass/stagepass/internal/processor/domain"
	refunddomain "github.com/stagepass/stagepass/internal/refund/domain"
	refundrepository "github.com/stagepass/stagepass/internal/refund/repository"
)

// fakeGateway simulates the processor: it records every idempotency key
// it sees and can be told to fail a number of initial calls.
type fakeGateway struct {
	mu           sync.Mutex
	keys         []string
	failuresLeft int
	failWith     error
	result       processordomain.RefundResult
	lookupFound  bool
	lookupResult processordomain.RefundResult
}

func (g *fakeGateway) RefundPayment(ctx context.Context, cred processordomain.Credential, paymentRef, idempotencyKey string) (processordomain.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys = append(g.keys, idempotencyKey)
	if g.failuresLeft > 0 {
		g.failuresLeft--
		return processordomain.RefundResult{}, g.failWith
	}
	return g.result, nil
}

func (g *fakeGateway) LookupRefund(ctx context.Context, cred processordomain.Credential, paymentRef, idempotencyKey string) (processordomain.RefundResult, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.lookupFound {
		return processordomain.RefundResult{}, false, nil
	}
	return g.lookupResult, true, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys)
}

func (g *fakeGateway) seenKeys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.keys...)
}

type testHarness struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	gateway *fakeGateway
	orders  orderdomain.Repository
	refunds refunddomain.Repository
	svc     refunddomain.Service
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// A pooled in-memory SQLite hands each connection its own database;
	// pin the pool to one connection so all goroutines share state.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&orderdomain.Order{},
		&refunddomain.Refund{},
		&ledgerdomain.LedgerAccount{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.LedgerEntryLine{},
	))
	db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS ux_ledger_entries_source ON ledger_entries(source_type, source_id)")
	db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS ux_ledger_accounts_code ON ledger_accounts(code)")

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	gateway := &fakeGateway{
		result: processordomain.RefundResult{
			ProviderRefundID: "re_test",
			Status:           "succeeded",
			Amount:           100000,
			Currency:         "USD",
			RawPayload:       []byte(`{"id":"re_test"}`),
		},
	}

	orders := orderrepository.NewRepository(db)
	refunds := refundrepository.NewRepository(db)
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})

	svc := NewService(Params{
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fake,
		Orders:      orders,
		Refunds:     refunds,
		Gateway:     gateway,
		Credentials: processordomain.NewStaticCredentialProvider("sk_test", "acct_platform"),
		Ledger:      ledgerSvc,
		Policy:      config.NewStaticRefundPolicyHolder(config.DefaultRefundPolicy()),
	})

	return &testHarness{
		db:      db,
		node:    node,
		clock:   fake,
		gateway: gateway,
		orders:  orders,
		refunds: refunds,
		svc:     svc,
	}
}

func (h *testHarness) createOrder(t *testing.T, platform orderdomain.Platform, status orderdomain.PaymentStatus) *orderdomain.Order {
	t.Helper()

	var paymentRef *string
	if platform != orderdomain.PlatformCash {
		ref := "pi_" + h.node.Generate().String()
		paymentRef = &ref
	}
	order := &orderdomain.Order{
		ID:                  h.node.Generate(),
		EventID:             1001,
		BuyerID:             h.node.Generate(),
		TotalAmount:         100000,
		Currency:            "USD",
		Platform:            platform,
		TicketCount:         2,
		PaymentStatus:       status,
		ProcessorPaymentRef: paymentRef,
		MarketplaceFee:      5000,
		ProcessorFee:        3000,
		CreatedAt:           h.clock.Now(),
		UpdatedAt:           h.clock.Now(),
	}
	require.NoError(t, h.orders.Create(context.Background(), order))
	return order
}

func (h *testHarness) reloadOrder(t *testing.T, id snowflake.ID) *orderdomain.Order {
	t.Helper()
	order, err := h.orders.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, order)
	return order
}

func TestRefundOrderHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, orderdomain.PlatformGateway, orderdomain.PaymentStatusPaid)

	refund, err := h.svc.RefundOrder(ctx, order.EventID, order.ID, refunddomain.ReasonEventCancelled, 42)
	require.NoError(t, err)
	require.NotNil(t, refund)

	assert.Equal(t, refunddomain.RefundStatusCompleted, refund.Status)
	assert.Equal(t, int64(100000), refund.Amount)
	assert.Equal(t, "USD", refund.Currency)
	require.NotNil(t, refund.ProcessorRefundRef)
	assert.Equal(t, "re_test", *refund.ProcessorRefundRef)
	require.NotNil(t, refund.ProcessedAt)

	require.Equal(t, 1, h.gateway.callCount())
	assert.Equal(t, refund.ID.String(), h.gateway.seenKeys()[0])

	assert.Equal(t, orderdomain.PaymentStatusRefunded, h.reloadOrder(t, order.ID).PaymentStatus)

	var entryCount int64
	require.NoError(t, h.db.Model(&ledgerdomain.LedgerEntry{}).
		Where("source_type = ? AND source_id = ?", ledgerdomain.SourceTypeRefund, refund.ID).
		Count(&entryCount).Error)
	assert.Equal(t, int64(1), entryCount)

	attempts, err := refund.AttemptLog()
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, refunddomain.AttemptOutcomeStarted, attempts[0].Outcome)
	assert.Equal(t, refunddomain.AttemptOutcomeCompleted, attempts[1].Outcome)
}

func TestRefundOrderCompletedShortCircuit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, orderdomain.PlatformGateway, orderdomain.PaymentStatusPaid)

	first, err := h.svc.RefundOrder(ctx, order.EventID, order.ID, refunddomain.ReasonEventCancelled, 42)
	require.NoError(t, err)
	require.Equal(t, 1, h.gateway.callCount())

	second, err := h.svc.RefundOrder(ctx, order.EventID, order.ID, refunddomain.ReasonEventCancelled, 42)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, refunddomain.RefundStatusCompleted, second.Status)
	assert.Equal(t, 1, h.gateway.callCount(), "no new processor call for a completed refund")
}

func TestRefundOrderConcurrentAtMostOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, orderdomain.PlatformGateway, orderdomain.PaymentStatusPaid)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*refunddomain.Refund, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			refund, err := h.svc.RefundOrder(ctx, order.EventID, order.ID, refunddomain.ReasonEventCancelled, 42)
			if err == nil {
				results[i] = refund
			}
		}(i)
	}
	wg.Wait()

	// Every processor call carried the same idempotency key.
	keys := h.gateway.seenKeys()
	require.NotEmpty(t, keys)
	for _, key := range keys {
		assert.Equal(t, keys[0], key)
	}

	// Exactly one refund record, and it is completed.
	var refunds []refunddomain.Refund
	require.NoError(t, h.db.Where("order_id = ?", order.ID).Find(&refunds).Error)
	require.Len(t, refunds, 1)
	assert.Equal(t, refunddomain.RefundStatusCompleted, refunds[0].Status)

	for _, refund := range results {
		if refund != nil {
			assert.Equal(t, refunds[0].ID, refund.ID)
		}
	}

	assert.Equal(t, orderdomain.PaymentStatusRefunded, h.reloadOrder(t, order.ID).PaymentStatus)
}

func TestRefundOrderCashUnsupported(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, orderdomain.PlatformCash, orderdomain.PaymentStatusPaid)

	_, err := h.svc.RefundOrder(ctx, order.EventID, order.ID, refunddomain.ReasonEventCancelled, 42)
	assert.ErrorIs(t, err, refunddomain.ErrUnsupportedChannel)
	assert.Zero(t, h.gateway.callCount(), "cash orders never contact the processor")

	var refundCount int64
	require.NoError(t, h.db.Model(&refunddomain.Refund{}).Where("order_id = ?", order.ID).Count(&refundCount).Error)
	assert.Zero(t, refundCount)
}

func TestRefundOrderRetryAfterFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, orderdomain.PlatformGateway, orderdomain.PaymentStatusPaid)

	h.gateway.failuresLeft = 1
	h.gateway.failWith = &processordomain.ProcessorError{
		Code:       "card_declined",
		Message:    "The card was declined.",
		HTTPStatus: 402,
	}

	first, err := h.svc.RefundOrder(ctx, order.EventID, order.ID, refunddomain.ReasonBuyerRequested, 42)
	require.ErrorIs(t, err, refunddomain.ErrProcessorFailure)
	require.NotNil(t, first)
	assert.Equal(t, refunddomain.RefundStatusFailed, first.Status)
	require.NotNil(t, first.FailureReason)
	assert.Equal(t, "card_declined", *first.FailureReason)
	assert.Equal(t, orderdomain.PaymentStatusFailed, h.reloadOrder(t, order.ID).PaymentStatus)

	second, err := h.svc.RefundOrder(ctx, order.EventID, order.ID, refunddomain.ReasonBuyerRequested, 42)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, refunddomain.RefundStatusCompleted, second.Status)

	// Same refund identity and same idempotency key across both calls.
	assert.Equal(t, first.ID, second.ID)
	keys := h.gateway.seenKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, first.ID.String(), keys[0])
	assert.Equal(t, 1, second.RetryCount)

	assert.Equal(t, orderdomain.PaymentStatusRefunded, h.reloadOrder(t, order.ID).PaymentStatus)
}

func TestRefundOrderTimeoutBlocksRetryUntilReconciled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, orderdomain.PlatformGateway, orderdomain.PaymentStatusPaid)

	h.gateway.failuresLeft = 1
	h.gateway.failWith = processordomain.ErrProcessorTimeout

	refund, err := h.svc.RefundOrder(ctx, order.EventID, order.ID, refunddomain.ReasonEventCancelled, 42)
	require.ErrorIs(t, err, refunddomain.ErrOutcomeUnknown)
	require.NotNil(t, refund)
	assert.True(t, refund.OutcomeUnknown())
	require.Equal(t, 1, h.gateway.callCount())

	// A retry before reconciliation is refused without a processor call.
	_, err = h.svc.RefundOrder(ctx, order.EventID, order.ID, refunddomain.ReasonEventCancelled, 42)
	assert.ErrorIs(t, err, refunddomain.ErrOutcomeUnknown)
	assert.Equal(t, 1, h.gateway.callCount())
}

func TestRefundOrderValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.RefundOrder(ctx, 1001, h.node.Generate(), refunddomain.ReasonOther, 42)
	assert.ErrorIs(t, err, orderdomain.ErrOrderNotFound)

	order := h.createOrder(t, orderdomain.PlatformGateway, orderdomain.PaymentStatusPaid)
	_, err = h.svc.RefundOrder(ctx, 9999, order.ID, refunddomain.ReasonOther, 42)
	assert.ErrorIs(t, err, orderdomain.ErrEventMismatch)

	pending := h.createOrder(t, orderdomain.PlatformGateway, orderdomain.PaymentStatusPending)
	_, err = h.svc.RefundOrder(ctx, pending.EventID, pending.ID, refunddomain.ReasonOther, 42)
	assert.ErrorIs(t, err, orderdomain.ErrOrderNotPaid)

	_, err = h.svc.RefundOrder(ctx, order.EventID, order.ID, refunddomain.RefundReason("bogus"), 42)
	assert.ErrorIs(t, err, refunddomain.ErrInvalidReason)

	assert.Zero(t, h.gateway.callCount())
}

func TestRefundOrderNoMarketplaceCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, orderdomain.PlatformGateway, orderdomain.PaymentStatusPaid)

	svc := NewService(Params{
		Log:         zap.NewNop(),
		GenID:       h.node,
		Clock:       h.clock,
		Orders:      h.orders,
		Refunds:     h.refunds,
		Gateway:     h.gateway,
		Credentials: processordomain.NewStaticCredentialProvider("", ""),
		Ledger: ledgerservice.NewService(ledgerservice.Params{
			DB:    h.db,
			Log:   zap.NewNop(),
			GenID: h.node,
		}),
		Policy: config.NewStaticRefundPolicyHolder(config.DefaultRefundPolicy()),
	})

	_, err := svc.RefundOrder(ctx, order.EventID, order.ID, refunddomain.ReasonOther, 42)
	assert.ErrorIs(t, err, processordomain.ErrNoMarketplaceCredential)
	assert.Zero(t, h.gateway.callCount())
}

func TestCompleteCashRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, orderdomain.PlatformCash, orderdomain.PaymentStatusPaid)

	refund, err := h.svc.CompleteCashRefund(ctx, order.EventID, order.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, refunddomain.RefundStatusCompleted, refund.Status)
	assert.Equal(t, int64(100000), refund.Amount)
	assert.Zero(t, h.gateway.callCount())
	assert.Equal(t, orderdomain.PaymentStatusRefunded, h.reloadOrder(t, order.ID).PaymentStatus)

	var entryCount int64
	require.NoError(t, h.db.Model(&ledgerdomain.LedgerEntry{}).
		Where("source_type = ? AND source_id = ?", ledgerdomain.SourceTypeCashRefund, refund.ID).
		Count(&entryCount).Error)
	assert.Equal(t, int64(1), entryCount)

	// Idempotent second call.
	again, err := h.svc.CompleteCashRefund(ctx, order.EventID, order.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, refund.ID, again.ID)

	var refundCount int64
	require.NoError(t, h.db.Model(&refunddomain.Refund{}).Where("order_id = ?", order.ID).Count(&refundCount).Error)
	assert.Equal(t, int64(1), refundCount)
}

func TestCompleteCashRefundRejectsProcessorOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, orderdomain.PlatformGateway, orderdomain.PaymentStatusPaid)

	_, err := h.svc.CompleteCashRefund(ctx, order.EventID, order.ID, 42)
	assert.ErrorIs(t, err, refunddomain.ErrNotCashOrder)
}

func TestGetByOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.GetByOrder(ctx, h.node.Generate())
	assert.ErrorIs(t, err, refunddomain.ErrRefundNotFound)

	order := h.createOrder(t, orderdomain.PlatformGateway, orderdomain.PaymentStatusPaid)
	created, err := h.svc.RefundOrder(ctx, order.EventID, order.ID, refunddomain.ReasonOther, 42)
	require.NoError(t, err)

	found, err := h.svc.GetByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
}

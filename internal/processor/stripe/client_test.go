package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	processordomain "github.com/stagepass/stagepass/internal/processor/domain"
)

func testCredential() processordomain.Credential {
	return processordomain.Credential{APIKey: "sk_test_123", AccountID: "acct_platform"}
}

func TestRefundPayment(t *testing.T) {
	var gotAuth, gotIdemKey, gotAccount, gotIntent, gotMetaKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/refunds", r.URL.Path)
		require.NoError(t, r.ParseForm())

		gotAuth = r.Header.Get("Authorization")
		gotIdemKey = r.Header.Get("Idempotency-Key")
		gotAccount = r.Header.Get("Stripe-Account")
		gotIntent = r.PostForm.Get("payment_intent")
		gotMetaKey = r.PostForm.Get("metadata[idempotency_key]")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "re_abc",
			"status": "succeeded",
			"amount": 5000,
			"currency": "usd",
			"payment_intent": "pi_123"
		}`))
	}))
	defer srv.Close()

	client := NewClientWithBaseURL(srv.URL, 5*time.Second)
	result, err := client.RefundPayment(context.Background(), testCredential(), "pi_123", "refund-42")
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk_test_123", gotAuth)
	assert.Equal(t, "refund-42", gotIdemKey)
	assert.Equal(t, "acct_platform", gotAccount)
	assert.Equal(t, "pi_123", gotIntent)
	assert.Equal(t, "refund-42", gotMetaKey)

	assert.Equal(t, "re_abc", result.ProviderRefundID)
	assert.Equal(t, "succeeded", result.Status)
	assert.Equal(t, int64(5000), result.Amount)
	assert.Equal(t, "USD", result.Currency)
	assert.NotEmpty(t, result.RawPayload)
}

func TestRefundPaymentProcessorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error": {"type": "card_error", "code": "charge_already_refunded", "message": "Charge pi_123 has already been refunded."}}`))
	}))
	defer srv.Close()

	client := NewClientWithBaseURL(srv.URL, 5*time.Second)
	_, err := client.RefundPayment(context.Background(), testCredential(), "pi_123", "refund-42")
	require.Error(t, err)

	var procErr *processordomain.ProcessorError
	require.True(t, errors.As(err, &procErr))
	assert.Equal(t, "charge_already_refunded", procErr.Code)
	assert.Equal(t, http.StatusPaymentRequired, procErr.HTTPStatus)
	assert.False(t, processordomain.IsTimeout(err))
}

func TestRefundPaymentTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClientWithBaseURL(srv.URL, 20*time.Millisecond)
	_, err := client.RefundPayment(context.Background(), testCredential(), "pi_123", "refund-42")
	require.Error(t, err)
	assert.True(t, processordomain.IsTimeout(err))
	assert.ErrorIs(t, err, processordomain.ErrProcessorTimeout)
}

func TestRefundPaymentMissingCredential(t *testing.T) {
	client := NewClient(time.Second)
	_, err := client.RefundPayment(context.Background(), processordomain.Credential{}, "pi_123", "refund-42")
	assert.ErrorIs(t, err, processordomain.ErrNoMarketplaceCredential)
}

func TestLookupRefundMatchesIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/refunds", r.URL.Path)
		require.Equal(t, "pi_123", r.URL.Query().Get("payment_intent"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [
			{"id": "re_other", "status": "succeeded", "amount": 1000, "currency": "usd", "payment_intent": "pi_123", "metadata": {"idempotency_key": "refund-7"}},
			{"id": "re_abc", "status": "succeeded", "amount": 5000, "currency": "usd", "payment_intent": "pi_123", "metadata": {"idempotency_key": "refund-42"}}
		]}`))
	}))
	defer srv.Close()

	client := NewClientWithBaseURL(srv.URL, 5*time.Second)
	result, found, err := client.LookupRefund(context.Background(), testCredential(), "pi_123", "refund-42")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "re_abc", result.ProviderRefundID)
	assert.Equal(t, int64(5000), result.Amount)
}

func TestLookupRefundNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": []}`))
	}))
	defer srv.Close()

	client := NewClientWithBaseURL(srv.URL, 5*time.Second)
	_, found, err := client.LookupRefund(context.Background(), testCredential(), "pi_123", "refund-42")
	require.NoError(t, err)
	assert.False(t, found)
}

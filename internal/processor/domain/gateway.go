package domain

import "context"

// Credential is a processor API credential. Refunds always run under the
// marketplace (platform) credential; connected seller accounts can receive
// funds but cannot reverse them.
type Credential struct {
	APIKey    string
	AccountID string
}

// CredentialProvider resolves the marketplace-level processor credential.
// Injected so tests and alternate environments can swap it.
type CredentialProvider interface {
	MarketplaceCredential(ctx context.Context) (Credential, error)
}

// RefundResult is the processor's view of a refund.
type RefundResult struct {
	ProviderRefundID string
	Status           string
	Amount           int64
	Currency         string
	RawPayload       []byte
}

// Gateway is the outbound surface to the payment processor's refund API.
// Calls are parameterized by an idempotency key: repeating a call with the
// same key must not create a second remote refund.
type Gateway interface {
	// RefundPayment reverses the full original charge for paymentRef.
	RefundPayment(ctx context.Context, cred Credential, paymentRef, idempotencyKey string) (RefundResult, error)
	// LookupRefund finds a refund previously issued for paymentRef under
	// idempotencyKey, used by reconciliation after an unknown-outcome
	// timeout.
	LookupRefund(ctx context.Context, cred Credential, paymentRef, idempotencyKey string) (RefundResult, bool, error)
}

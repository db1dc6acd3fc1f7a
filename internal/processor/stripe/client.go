package stripe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	processordomain "github.com/stagepass/stagepass/internal/processor/domain"
)

const defaultBaseURL = "https://api.stripe.com"

type stripeRefundList struct {
	Data []stripeRefund `json:"data"`
}

type stripeRefund struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	PaymentIntent string            `json:"payment_intent"`
	Metadata      map[string]string `json:"metadata"`
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to the Stripe v1 refunds API. It implements
// processordomain.Gateway for gateway and in-app channel orders.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &Client{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// NewClientWithBaseURL is used by tests to point at a stub server.
func NewClientWithBaseURL(baseURL string, timeout time.Duration) *Client {
	c := NewClient(timeout)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *Client) RefundPayment(
	ctx context.Context,
	cred processordomain.Credential,
	paymentRef string,
	idempotencyKey string,
) (processordomain.RefundResult, error) {
	if strings.TrimSpace(cred.APIKey) == "" {
		return processordomain.RefundResult{}, processordomain.ErrNoMarketplaceCredential
	}

	// No amount: Stripe interprets an absent amount as a full refund of
	// the original charge.
	values := url.Values{}
	values.Set("payment_intent", paymentRef)
	values.Set("metadata[idempotency_key]", idempotencyKey)

	raw, err := c.doRequest(ctx, cred, http.MethodPost, "/v1/refunds", values, idempotencyKey)
	if err != nil {
		return processordomain.RefundResult{}, err
	}

	var refund stripeRefund
	if err := json.Unmarshal(raw, &refund); err != nil {
		return processordomain.RefundResult{}, err
	}

	return processordomain.RefundResult{
		ProviderRefundID: refund.ID,
		Status:           refund.Status,
		Amount:           refund.Amount,
		Currency:         strings.ToUpper(refund.Currency),
		RawPayload:       raw,
	}, nil
}

func (c *Client) LookupRefund(
	ctx context.Context,
	cred processordomain.Credential,
	paymentRef string,
	idempotencyKey string,
) (processordomain.RefundResult, bool, error) {
	if strings.TrimSpace(cred.APIKey) == "" {
		return processordomain.RefundResult{}, false, processordomain.ErrNoMarketplaceCredential
	}

	query := url.Values{}
	query.Set("payment_intent", paymentRef)
	query.Set("limit", "100")

	raw, err := c.doRequest(ctx, cred, http.MethodGet, "/v1/refunds?"+query.Encode(), nil, "")
	if err != nil {
		return processordomain.RefundResult{}, false, err
	}

	var list stripeRefundList
	if err := json.Unmarshal(raw, &list); err != nil {
		return processordomain.RefundResult{}, false, err
	}

	for _, refund := range list.Data {
		if refund.Metadata["idempotency_key"] != idempotencyKey {
			continue
		}
		return processordomain.RefundResult{
			ProviderRefundID: refund.ID,
			Status:           refund.Status,
			Amount:           refund.Amount,
			Currency:         strings.ToUpper(refund.Currency),
			RawPayload:       raw,
		}, true, nil
	}
	return processordomain.RefundResult{}, false, nil
}

func (c *Client) doRequest(
	ctx context.Context,
	cred processordomain.Credential,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
) ([]byte, error) {
	var bodyReader *strings.Reader
	if values != nil {
		bodyReader = strings.NewReader(values.Encode())
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.APIKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if cred.AccountID != "" {
		req.Header.Set("Stripe-Account", cred.AccountID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if processordomain.IsTimeout(err) {
			return nil, processordomain.ErrProcessorTimeout
		}
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr stripeErrorResponse
		_ = json.Unmarshal(raw, &stripeErr)
		code := stripeErr.Error.Code
		if code == "" {
			code = stripeErr.Error.Type
		}
		if code == "" {
			code = resp.Status
		}
		message := stripeErr.Error.Message
		if message == "" {
			message = "processor request failed"
		}
		return nil, &processordomain.ProcessorError{
			Code:       code,
			Message:    message,
			HTTPStatus: resp.StatusCode,
		}
	}

	return raw, nil
}

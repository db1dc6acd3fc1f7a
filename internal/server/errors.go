package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	ledgerdomain "github.com/stagepass/stagepass/internal/ledger/domain"
	orderdomain "github.com/stagepass/stagepass/internal/order/domain"
	processordomain "github.com/stagepass/stagepass/internal/processor/domain"
	refunddomain "github.com/stagepass/stagepass/internal/refund/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
)

// ErrorHandlingMiddleware converts the last error attached to the
// context into the API's error envelope. Handlers that already wrote a
// body are left alone.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

// mapError is the single place HTTP status codes are assigned to the
// refund error taxonomy. Caller errors are 4xx and never retried;
// processor failures surface as 502.
func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, refunddomain.ErrInvalidReason),
		errors.Is(err, orderdomain.ErrInvalidPlatform):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: "invalid request",
		}
	case errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, orderdomain.ErrEventMismatch),
		errors.Is(err, refunddomain.ErrRefundNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, refunddomain.ErrConflict),
		errors.Is(err, orderdomain.ErrStatusConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, refunddomain.ErrUnsupportedChannel):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unsupported_channel",
			Message: "cash orders require manual completion",
		}
	case errors.Is(err, refunddomain.ErrNotCashOrder):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "not_cash_order",
			Message: "only cash orders can be completed manually",
		}
	case errors.Is(err, orderdomain.ErrOrderNotPaid):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "order_not_paid",
			Message: "order is not in a refundable state",
		}
	case errors.Is(err, refunddomain.ErrOutcomeUnknown):
		return http.StatusBadGateway, errorPayload{
			Type:    refunddomain.FailureReasonTimeoutUnknown,
			Message: "processor outcome unknown, awaiting reconciliation",
		}
	case errors.Is(err, refunddomain.ErrProcessorFailure):
		return http.StatusBadGateway, errorPayload{
			Type:    "processor_error",
			Message: "processor rejected the refund",
		}
	case errors.Is(err, processordomain.ErrNoMarketplaceCredential):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "no_marketplace_credential",
			Message: "marketplace processor credential is not configured",
		}
	case isLedgerValidationError(err):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "invalid_ledger_entry",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isLedgerValidationError(err error) bool {
	switch {
	case errors.Is(err, ledgerdomain.ErrUnbalancedEntry),
		errors.Is(err, ledgerdomain.ErrInvalidEntryLines),
		errors.Is(err, ledgerdomain.ErrInvalidLineAmount),
		errors.Is(err, ledgerdomain.ErrInvalidLineDirection):
		return true
	default:
		return false
	}
}

// classifyErrorForLog feeds the request logger's error_type and
// error_code fields without leaking internals into access logs.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error", payload.Type
	case status >= http.StatusBadRequest:
		return "client_error", payload.Type
	default:
		return "", payload.Type
	}
}

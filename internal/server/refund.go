package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	refunddomain "github.com/stagepass/stagepass/internal/refund/domain"
)

type refundRequest struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by" binding:"required"`
}

type cashCompletedRequest struct {
	RequestedBy string `json:"requested_by" binding:"required"`
}

func parseID(c *gin.Context, param string) (snowflake.ID, bool) {
	raw := strings.TrimSpace(c.Param(param))
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}

// RefundOrder handles POST /v1/events/:event_id/orders/:order_id/refund.
// A failed attempt still returns the refund body so the caller can see
// the recorded failure before retrying.
func (s *Server) RefundOrder(c *gin.Context) {
	eventID, ok := parseID(c, "event_id")
	if !ok {
		return
	}
	orderID, ok := parseID(c, "order_id")
	if !ok {
		return
	}

	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	actorID, err := snowflake.ParseString(strings.TrimSpace(req.RequestedBy))
	if err != nil || actorID == 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	refund, err := s.refundSvc.RefundOrder(c.Request.Context(), eventID, orderID,
		refunddomain.RefundReason(strings.TrimSpace(req.Reason)), actorID)
	if err != nil {
		if refund != nil &&
			(errors.Is(err, refunddomain.ErrProcessorFailure) || errors.Is(err, refunddomain.ErrOutcomeUnknown)) {
			status, payload := mapError(err)
			c.JSON(status, gin.H{"error": payload, "refund": refund})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund": refund})
}

// GetRefund handles GET /v1/events/:event_id/orders/:order_id/refund.
func (s *Server) GetRefund(c *gin.Context) {
	eventID, ok := parseID(c, "event_id")
	if !ok {
		return
	}
	orderID, ok := parseID(c, "order_id")
	if !ok {
		return
	}

	refund, err := s.refundSvc.GetByOrder(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if refund.EventID != eventID {
		AbortWithError(c, refunddomain.ErrRefundNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund": refund})
}

// CompleteCashRefund handles
// POST /v1/events/:event_id/orders/:order_id/cash-completed.
func (s *Server) CompleteCashRefund(c *gin.Context) {
	eventID, ok := parseID(c, "event_id")
	if !ok {
		return
	}
	orderID, ok := parseID(c, "order_id")
	if !ok {
		return
	}

	var req cashCompletedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	actorID, err := snowflake.ParseString(strings.TrimSpace(req.RequestedBy))
	if err != nil || actorID == 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	refund, err := s.refundSvc.CompleteCashRefund(c.Request.Context(), eventID, orderID, actorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund": refund})
}

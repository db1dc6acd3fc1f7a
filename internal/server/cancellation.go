package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type cancellationRequest struct {
	InitiatedBy string `json:"initiated_by" binding:"required"`
}

// RefundAllOrders handles POST /v1/events/:event_id/cancellation: it
// drives refunds for every outstanding processor-paid order of the
// event and returns the recomputed batch aggregate. Calling it again
// resumes where the last run left off.
func (s *Server) RefundAllOrders(c *gin.Context) {
	eventID, ok := parseID(c, "event_id")
	if !ok {
		return
	}

	var req cancellationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	actorID, err := snowflake.ParseString(strings.TrimSpace(req.InitiatedBy))
	if err != nil || actorID == 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.cancellationSvc.RefundAllOrders(c.Request.Context(), eventID, actorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"batch": result})
}

// CancellationStatus handles GET /v1/events/:event_id/cancellation.
func (s *Server) CancellationStatus(c *gin.Context) {
	eventID, ok := parseID(c, "event_id")
	if !ok {
		return
	}

	result, err := s.cancellationSvc.BatchStatus(c.Request.Context(), eventID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"batch": result})
}

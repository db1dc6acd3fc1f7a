package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// FinancialSummary handles GET /v1/events/:event_id/financial-summary.
// include_refunded defaults to false: live dashboards exclude refunded
// revenue, historical audits opt in explicitly.
func (s *Server) FinancialSummary(c *gin.Context) {
	eventID, ok := parseID(c, "event_id")
	if !ok {
		return
	}

	includeRefunded := false
	if raw := strings.TrimSpace(c.Query("include_refunded")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		includeRefunded = parsed
	}

	summary, err := s.settlementSvc.SummarizeEvent(c.Request.Context(), eventID, includeRefunded)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/northmeter/ledger/internal/reporting"
	"github.com/northmeter/ledger/internal/usagetype"
)

// GetUsageSummaries returns the current summary version per period for
// one tenant and usage type, each flagged provisional or final.
func (s *Server) GetUsageSummaries(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	tenantID, err := snowflake.ParseString(c.Param("tenant_id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ut, err := usagetype.Parse(c.Query("usage_type"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	periodRange, err := parsePeriodRange(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summaries, err := s.reportingSvc.GetUsageSummaries(c.Request.Context(), actor, tenantID, ut, periodRange)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"usage_summaries": summaries})
}

// GetAttribution returns a tenant's acquisition record. An organic tenant
// yields an explicit null, not a 404.
func (s *Server) GetAttribution(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	tenantID, err := snowflake.ParseString(c.Param("tenant_id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := s.reportingSvc.GetAttribution(c.Request.Context(), actor, tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"attribution": record})
}

// GetBillingCursor is operational/debug surface only; the gate denies
// tenant-scoped callers.
func (s *Server) GetBillingCursor(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	tenantID, err := snowflake.ParseString(c.Param("tenant_id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ut, err := usagetype.Parse(c.Param("usage_type"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	cursor, err := s.reportingSvc.GetBillingCursor(c.Request.Context(), actor, tenantID, ut)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"billing_cursor": cursor})
}

func parsePeriodRange(c *gin.Context) (reporting.PeriodRange, error) {
	var r reporting.PeriodRange

	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return r, newValidationError("from", "invalid_timestamp", "from must be RFC3339")
		}
		r.From = from
	}
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return r, newValidationError("to", "invalid_timestamp", "to must be RFC3339")
		}
		r.To = to
	}
	return r, nil
}

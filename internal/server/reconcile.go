package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/northmeter/ledger/internal/reporting"
	"github.com/northmeter/ledger/internal/usagetype"
)

type reconcileRequest struct {
	TenantID  string `json:"tenant_id"`
	UsageType string `json:"usage_type"`
}

// TriggerReconcile runs reconciliation passes on demand. Omitting the
// tenant means every tenant due for reconciliation; omitting the usage
// type means every type. Service credentials only.
func (s *Server) TriggerReconcile(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	if actor.Type != reporting.ActorService {
		AbortWithError(c, reporting.ErrAccessDenied)
		return
	}
	if s.scheduler == nil {
		AbortWithError(c, ErrInternal)
		return
	}

	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	var tenantID snowflake.ID
	if raw := strings.TrimSpace(req.TenantID); raw != "" {
		parsed, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		tenantID = parsed
	}

	var ut usagetype.UsageType
	if raw := strings.TrimSpace(req.UsageType); raw != "" {
		parsed, err := usagetype.Parse(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		ut = parsed
	}

	if err := s.scheduler.Reconcile(c.Request.Context(), tenantID, ut); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

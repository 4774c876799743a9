package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/northmeter/ledger/internal/reporting"
	usageeventdomain "github.com/northmeter/ledger/internal/usageevent/domain"
)

// IngestEvent accepts one raw usage event from a collector. Unmapped
// kinds are rejected here and never reach the store.
func (s *Server) IngestEvent(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req usageeventdomain.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	// Tenant credentials may only write their own stream; collectors run
	// with service credentials.
	if actor.Type == reporting.ActorTenant {
		req.TenantID = actor.TenantID.String()
	}

	event, err := s.usageSvc.Ingest(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, event)
}

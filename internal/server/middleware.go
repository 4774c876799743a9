package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/northmeter/ledger/internal/reporting"
	"github.com/northmeter/ledger/pkg/tenantctx"
)

const contextActorKey = "reporting_actor"

// ActorMiddleware derives the reporting actor from the identity headers
// set by the fronting gateway, which terminates authentication. Requests
// without an identity are rejected here; scope decisions stay in the
// reporting gate.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorType := strings.TrimSpace(c.GetHeader("X-Auth-Type"))
		if actorType == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actor := reporting.Actor{
			Scopes: splitScopes(c.GetHeader("X-Auth-Scopes")),
		}

		switch actorType {
		case string(reporting.ActorTenant):
			tenantID, err := snowflake.ParseString(strings.TrimSpace(c.GetHeader("X-Auth-Tenant-ID")))
			if err != nil || tenantID == 0 {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			actor.Type = reporting.ActorTenant
			actor.TenantID = tenantID
			c.Request = c.Request.WithContext(tenantctx.WithTenantID(c.Request.Context(), tenantID))
		case string(reporting.ActorService):
			actor.Type = reporting.ActorService
		default:
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextActorKey, actor)
		c.Next()
	}
}

func actorFromContext(c *gin.Context) (reporting.Actor, bool) {
	value, ok := c.Get(contextActorKey)
	if !ok {
		return reporting.Actor{}, false
	}
	actor, ok := value.(reporting.Actor)
	return actor, ok
}

func splitScopes(raw string) []string {
	parts := strings.Split(raw, ",")
	scopes := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			scopes = append(scopes, p)
		}
	}
	return scopes
}

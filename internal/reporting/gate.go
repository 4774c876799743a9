// Package reporting enforces tenant-scoped visibility over usage and
// attribution data. The gate is default-deny: a caller sees a tenant's
// data only with a credential scoped to exactly that tenant, or a service
// credential explicitly granted cross-tenant reads.
package reporting

import (
	"errors"

	"github.com/bwmarrin/snowflake"
)

type ActorType string

const (
	ActorTenant  ActorType = "tenant"
	ActorService ActorType = "service"
)

// Scopes carried by credentials. Aggregate, multi-tenant queries require
// ScopeUsageReadAll; plain ScopeUsageRead only ever reads the credential's
// own tenant.
const (
	ScopeUsageRead    = "usage:read"
	ScopeUsageReadAll = "usage:read_all"
	ScopeCursorRead   = "cursor:read"
)

// Actor is the authenticated caller as established by the transport layer.
type Actor struct {
	Type     ActorType
	TenantID snowflake.ID
	Scopes   []string
}

// QueryScope names what the caller is asking for.
type QueryScope string

const (
	QueryUsageSummaries QueryScope = "usage_summaries"
	QueryAttribution    QueryScope = "attribution"
	// QueryBillingCursor is operational state, never exposed to
	// tenant-scoped callers.
	QueryBillingCursor QueryScope = "billing_cursor"
	// QueryAggregate covers multi-tenant rollups (funnel and acquisition
	// reports); it has no single target tenant.
	QueryAggregate QueryScope = "aggregate"
)

// ErrAccessDenied is surfaced as a plain authorization failure, never as
// a data-shaped response.
var ErrAccessDenied = errors.New("access_denied")

// Authorize decides whether actor may run query against tenantID.
// tenantID is zero only for aggregate queries.
func Authorize(actor Actor, tenantID snowflake.ID, query QueryScope) error {
	switch actor.Type {
	case ActorService:
		return authorizeService(actor, query)
	case ActorTenant:
		return authorizeTenant(actor, tenantID, query)
	default:
		return ErrAccessDenied
	}
}

func authorizeService(actor Actor, query QueryScope) error {
	switch query {
	case QueryBillingCursor:
		if hasScope(actor.Scopes, ScopeCursorRead) {
			return nil
		}
	case QueryAggregate:
		if hasScope(actor.Scopes, ScopeUsageReadAll) {
			return nil
		}
	case QueryUsageSummaries, QueryAttribution:
		if hasScope(actor.Scopes, ScopeUsageReadAll) {
			return nil
		}
	}
	return ErrAccessDenied
}

func authorizeTenant(actor Actor, tenantID snowflake.ID, query QueryScope) error {
	// Tenant credentials never see operational cursors or cross-tenant
	// aggregates, regardless of scopes.
	if query == QueryBillingCursor || query == QueryAggregate {
		return ErrAccessDenied
	}
	if actor.TenantID == 0 || tenantID == 0 || actor.TenantID != tenantID {
		return ErrAccessDenied
	}
	if !hasScope(actor.Scopes, ScopeUsageRead) {
		return ErrAccessDenied
	}
	return nil
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

package attribution

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/northmeter/ledger/internal/alert"
	"github.com/northmeter/ledger/internal/attribution/domain"
	obsmetrics "github.com/northmeter/ledger/internal/observability/metrics"
	tenantdomain "github.com/northmeter/ledger/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const alertCodePersistFailed = "attribution_persist_failed"

type PropagatorParam struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	TenantSvc tenantdomain.Service
	Repo      domain.Repository
	Alerts    alert.Sink
}

// Propagator carries captured attribution through tenant creation so it is
// persisted exactly once, attached to the tenant the registration produced.
type Propagator struct {
	log       *zap.Logger
	genID     *snowflake.Node
	tenantSvc tenantdomain.Service
	repo      domain.Repository
	alerts    alert.Sink
}

func NewPropagator(p PropagatorParam) *Propagator {
	return &Propagator{
		log:       p.Log.Named("attribution.propagator"),
		genID:     p.GenID,
		tenantSvc: p.TenantSvc,
		repo:      p.Repo,
		alerts:    p.Alerts,
	}
}

// Propagate creates the tenant and attaches the sanitized attribution to
// it. Tenant creation is authoritative: if it fails, the whole call fails.
// Attribution is advisory: a failed attribution write is surfaced to the
// operator channel and the tenant stands. A nil attribution means the
// tenant is organic and nothing is written.
func (p *Propagator) Propagate(
	ctx context.Context,
	reg tenantdomain.CreateTenantRequest,
	attr *domain.TenantAttribution,
) (snowflake.ID, error) {

	created, err := p.tenantSvc.Create(ctx, reg)
	if err != nil {
		return 0, err
	}

	if attr == nil {
		return created.ID, nil
	}

	record := *attr
	record.ID = p.genID.Generate()
	record.TenantID = created.ID

	if err := p.repo.Insert(ctx, &record); err != nil {
		wrapped := fmt.Errorf("%w: %v", domain.ErrPersistFailed, err)
		obsmetrics.Ledger().IncAlertRaised(alertCodePersistFailed)
		p.alerts.Raise(ctx, alert.Event{
			Severity: alert.SeverityWarning,
			Code:     alertCodePersistFailed,
			Message:  "attribution write failed after tenant creation",
			TenantID: created.ID.String(),
			Fields:   map[string]any{"error": wrapped.Error()},
		})
		p.log.Warn("attribution persist failed",
			zap.String("tenant_id", created.ID.String()),
			zap.Error(wrapped),
		)
		return created.ID, nil
	}

	return created.ID, nil
}

// GetByTenantID exposes the stored attribution; nil means organic.
func (p *Propagator) GetByTenantID(ctx context.Context, tenantID snowflake.ID) (*domain.TenantAttribution, error) {
	if tenantID == 0 {
		return nil, domain.ErrInvalidTenant
	}
	return p.repo.FindByTenantID(ctx, tenantID)
}

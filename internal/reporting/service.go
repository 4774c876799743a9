package reporting

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	attributiondomain "github.com/northmeter/ledger/internal/attribution/domain"
	ledgerdomain "github.com/northmeter/ledger/internal/ledger/domain"
	"github.com/northmeter/ledger/internal/usagetype"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	AttributionRepo attributiondomain.Repository
}

// Service is the query surface over reconciled data. Every method runs
// the access gate before touching a row.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	attrRepo attributiondomain.Repository
}

func NewService(p ServiceParam) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("reporting.service"),
		attrRepo: p.AttributionRepo,
	}
}

// PeriodRange selects summaries whose period start falls in [From, To).
// Zero bounds are open.
type PeriodRange struct {
	From time.Time
	To   time.Time
}

// SummaryView is a UsageSummary plus its finality. Provisional means the
// period is still inside the stream's lookback window and a later pass
// may still correct it.
type SummaryView struct {
	ledgerdomain.UsageSummary
	Provisional bool `json:"provisional"`
}

// GetUsageSummaries returns the current (non-superseded) summary version
// per period for one tenant and usage type.
func (s *Service) GetUsageSummaries(
	ctx context.Context,
	actor Actor,
	tenantID snowflake.ID,
	ut usagetype.UsageType,
	periodRange PeriodRange,
) ([]SummaryView, error) {

	if err := Authorize(actor, tenantID, QueryUsageSummaries); err != nil {
		return nil, err
	}
	if !usagetype.IsValid(ut) {
		return nil, usagetype.ErrUnknownUsageType
	}

	query := s.db.WithContext(ctx).
		Where("tenant_id = ? AND usage_type = ? AND superseded_by IS NULL", tenantID, ut)
	if !periodRange.From.IsZero() {
		query = query.Where("period_start >= ?", periodRange.From.UTC())
	}
	if !periodRange.To.IsZero() {
		query = query.Where("period_start < ?", periodRange.To.UTC())
	}

	var summaries []ledgerdomain.UsageSummary
	if err := query.Order("period_start ASC").Find(&summaries).Error; err != nil {
		return nil, err
	}

	cursor, err := s.findCursor(ctx, tenantID, ut)
	if err != nil {
		return nil, err
	}

	views := make([]SummaryView, 0, len(summaries))
	for _, summary := range summaries {
		views = append(views, SummaryView{
			UsageSummary: summary,
			Provisional:  isProvisional(summary, cursor),
		})
	}
	return views, nil
}

// GetBillingCursor exposes a stream's cursor for operational and debug
// use. The gate restricts it to service credentials.
func (s *Service) GetBillingCursor(
	ctx context.Context,
	actor Actor,
	tenantID snowflake.ID,
	ut usagetype.UsageType,
) (*ledgerdomain.BillingCursor, error) {

	if err := Authorize(actor, tenantID, QueryBillingCursor); err != nil {
		return nil, err
	}

	cursor, err := s.findCursor(ctx, tenantID, ut)
	if err != nil {
		return nil, err
	}
	if cursor == nil {
		return nil, ledgerdomain.ErrCursorNotFound
	}
	return cursor, nil
}

// GetAttribution returns the tenant's acquisition record; nil means the
// tenant is organic.
func (s *Service) GetAttribution(
	ctx context.Context,
	actor Actor,
	tenantID snowflake.ID,
) (*attributiondomain.TenantAttribution, error) {

	if err := Authorize(actor, tenantID, QueryAttribution); err != nil {
		return nil, err
	}
	return s.attrRepo.FindByTenantID(ctx, tenantID)
}

func (s *Service) findCursor(ctx context.Context, tenantID snowflake.ID, ut usagetype.UsageType) (*ledgerdomain.BillingCursor, error) {
	var cursor ledgerdomain.BillingCursor
	err := s.db.WithContext(ctx).
		First(&cursor, "tenant_id = ? AND usage_type = ?", tenantID, ut).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

func isProvisional(summary ledgerdomain.UsageSummary, cursor *ledgerdomain.BillingCursor) bool {
	if cursor == nil {
		return true
	}
	if summary.PeriodEnd.After(cursor.Watermark) {
		return true
	}
	// Periods still inside the lookback window may receive corrections.
	return summary.PeriodEnd.After(cursor.Watermark.Add(-cursor.Lookback()))
}

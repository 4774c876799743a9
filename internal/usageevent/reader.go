package usageevent

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/northmeter/ledger/internal/usageevent/domain"
	"github.com/northmeter/ledger/internal/usagetype"
	"gorm.io/gorm"
)

type reader struct {
	db *gorm.DB
}

// NewReader returns the read-only cursor over the event store used by the
// ledger. Reads are idempotent: the same window yields the same events in
// the same order on every call, which is what makes reconciliation
// replays safe.
func NewReader(db *gorm.DB) domain.Reader {
	return &reader{db: db}
}

// Read yields events with occurred-at in [window.Start, window.End),
// sorted by occurred-at with ties broken by event id. Arrival order is
// deliberately ignored. The reader does not deduplicate; that is the
// ledger's job, so re-aggregation works from raw rows alone.
func (r *reader) Read(
	ctx context.Context,
	tenantID snowflake.ID,
	ut usagetype.UsageType,
	window domain.Window,
) ([]domain.UsageEvent, error) {

	if tenantID == 0 {
		return nil, domain.ErrInvalidTenant
	}
	if window.IsZero() || !window.End.After(window.Start) {
		return nil, domain.ErrInvalidWindow
	}

	var events []domain.UsageEvent
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND usage_type = ?", tenantID, ut).
		Where("occurred_at >= ? AND occurred_at < ?", window.Start.UTC(), window.End.UTC()).
		Order("occurred_at ASC, event_id ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Package domain contains persistence models for the tenant usage ledger:
// one billing cursor per (tenant, usage type) stream and an append-only
// chain of usage summary versions per billing period.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/northmeter/ledger/internal/usagetype"
	"github.com/shopspring/decimal"
)

// BillingCursor marks how far a (tenant, usage type) stream has been
// reconciled. Watermark only ever moves forward; the lookback window
// behind it is re-scanned on every pass to catch late arrivals.
type BillingCursor struct {
	TenantID        snowflake.ID        `json:"tenant_id" gorm:"primaryKey;autoIncrement:false"`
	UsageType       usagetype.UsageType `json:"usage_type" gorm:"type:text;primaryKey"`
	Watermark       time.Time           `json:"watermark" gorm:"not null"`
	LookbackSeconds int64               `json:"lookback_seconds" gorm:"not null"`
	LastAdvancedAt  time.Time           `json:"last_advanced_at" gorm:"not null"`
	CreatedAt       time.Time           `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time           `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingCursor) TableName() string { return "billing_cursors" }

func (c BillingCursor) Lookback() time.Duration {
	return time.Duration(c.LookbackSeconds) * time.Second
}

// UsageSummary is one version of a period's reconciled total. Versions
// are never edited in place: a correction writes a new row with an
// incremented pass number and points the old row at it via SupersededBy.
type UsageSummary struct {
	ID            snowflake.ID        `json:"id" gorm:"primaryKey"`
	TenantID      snowflake.ID        `json:"tenant_id" gorm:"not null;uniqueIndex:ux_usage_summaries_period,priority:1"`
	UsageType     usagetype.UsageType `json:"usage_type" gorm:"type:text;not null;uniqueIndex:ux_usage_summaries_period,priority:2"`
	PeriodStart   time.Time           `json:"period_start" gorm:"not null;uniqueIndex:ux_usage_summaries_period,priority:3"`
	PeriodEnd     time.Time           `json:"period_end" gorm:"not null"`
	TotalQuantity decimal.Decimal     `json:"total_quantity" gorm:"type:numeric;not null"`
	Unit          string              `json:"unit" gorm:"type:text;not null"`
	EventCount    int64               `json:"event_count" gorm:"not null"`
	PassNumber    int                 `json:"pass_number" gorm:"not null;uniqueIndex:ux_usage_summaries_period,priority:4"`
	SupersededBy  *snowflake.ID       `json:"superseded_by" gorm:"index"`
	CreatedAt     time.Time           `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageSummary) TableName() string { return "usage_summaries" }

// Current reports whether this version is the live one for its period.
func (s UsageSummary) Current() bool { return s.SupersededBy == nil }

var (
	// ErrReconciliationConflict means another pass already holds the
	// stream's lock; the later pass aborts cleanly and retries on the
	// next tick.
	ErrReconciliationConflict = errors.New("reconciliation_conflict")
	// ErrScanFailed wraps the underlying cause after scan retries are
	// exhausted. The cursor is never advanced on incomplete data.
	ErrScanFailed     = errors.New("scan_failed")
	ErrNotComparable  = errors.New("usage_types_not_comparable")
	ErrCursorNotFound = errors.New("billing_cursor_not_found")
	ErrInvalidTenant  = errors.New("invalid_tenant")
)

// Package domain contains the read model for raw usage events. The event
// store is append-only: the ledger reads it, never mutates it.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/northmeter/ledger/internal/usagetype"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// UsageEvent is a single unit of metered activity as written by an
// external collector. EventID is the collector's globally unique id and
// is the only deduplication key; occurred-at and observed-at may differ
// by hours when a collector flushes late.
type UsageEvent struct {
	ID         snowflake.ID        `json:"id" gorm:"primaryKey"`
	EventID    string              `json:"event_id" gorm:"type:text;not null;uniqueIndex"`
	TenantID   snowflake.ID        `json:"tenant_id" gorm:"not null;index:ix_usage_events_scan,priority:1"`
	UsageType  usagetype.UsageType `json:"usage_type" gorm:"type:text;not null;index:ix_usage_events_scan,priority:2"`
	RawKind    string              `json:"raw_kind" gorm:"type:text;not null"` // snapshot
	Quantity   decimal.Decimal     `json:"quantity" gorm:"type:numeric;not null"`
	Unit       string              `json:"unit" gorm:"type:text;not null"`
	OccurredAt time.Time           `json:"occurred_at" gorm:"not null;index:ix_usage_events_scan,priority:3"`
	ObservedAt time.Time           `json:"observed_at" gorm:"not null"`
	Metadata   datatypes.JSONMap   `json:"metadata" gorm:"type:jsonb"`
	CreatedAt  time.Time           `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }

// Window is a half-open [Start, End) interval over event occurred-at.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) IsZero() bool { return w.Start.IsZero() && w.End.IsZero() }

type IngestRequest struct {
	EventID    string         `json:"event_id"`
	TenantID   string         `json:"tenant_id"`
	RawKind    string         `json:"kind"`
	Quantity   string         `json:"quantity"`
	OccurredAt time.Time      `json:"occurred_at"`
	Metadata   map[string]any `json:"metadata"`
}

type Service interface {
	Ingest(context.Context, IngestRequest) (*UsageEvent, error)
}

// Reader is the ledger's view of the event store: finite, restartable,
// deterministically ordered scans.
type Reader interface {
	Read(ctx context.Context, tenantID snowflake.ID, ut usagetype.UsageType, window Window) ([]UsageEvent, error)
}

// Pair identifies one reconciliation stream.
type Pair struct {
	TenantID  snowflake.ID
	UsageType usagetype.UsageType
}

var (
	ErrInvalidEventID  = errors.New("invalid_event_id")
	ErrInvalidTenant   = errors.New("invalid_tenant")
	ErrInvalidQuantity = errors.New("invalid_quantity")
	ErrInvalidWindow   = errors.New("invalid_window")
)

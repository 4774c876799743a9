package usageevent

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/northmeter/ledger/internal/clock"
	obsmetrics "github.com/northmeter/ledger/internal/observability/metrics"
	"github.com/northmeter/ledger/internal/usageevent/domain"
	"github.com/northmeter/ledger/internal/usagetype"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

// Service is the ingestion edge. Classification happens here, so events
// with unmapped kinds never reach the store and can never leak into a
// summary.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("usageevent.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Ingest(ctx context.Context, req domain.IngestRequest) (*domain.UsageEvent, error) {
	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		return nil, domain.ErrInvalidEventID
	}

	tenantID, err := snowflake.ParseString(strings.TrimSpace(req.TenantID))
	if err != nil || tenantID == 0 {
		return nil, domain.ErrInvalidTenant
	}

	ut, err := usagetype.Classify(req.RawKind)
	if err != nil {
		obsmetrics.Ledger().IncEventRejected()
		s.log.Warn("rejected event with unmapped kind",
			zap.String("event_id", eventID),
			zap.String("kind", req.RawKind),
		)
		return nil, err
	}

	quantity, err := decimal.NewFromString(strings.TrimSpace(req.Quantity))
	if err != nil || quantity.IsNegative() {
		return nil, domain.ErrInvalidQuantity
	}
	if ut.Discrete() && !quantity.Equal(quantity.Truncate(0)) {
		return nil, domain.ErrInvalidQuantity
	}

	now := s.clock.Now()
	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	record := &domain.UsageEvent{
		ID:         s.genID.Generate(),
		EventID:    eventID,
		TenantID:   tenantID,
		UsageType:  ut,
		RawKind:    strings.ToLower(strings.TrimSpace(req.RawKind)),
		Quantity:   quantity,
		Unit:       ut.Unit(),
		OccurredAt: occurredAt.UTC(),
		ObservedAt: now,
		Metadata:   datatypes.JSONMap(req.Metadata),
	}

	// Collectors retry; the event id is the dedup key. The first accepted
	// row wins and replays return it unchanged.
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(record).Error
	if err != nil {
		return nil, err
	}

	var stored domain.UsageEvent
	err = s.db.WithContext(ctx).First(&stored, "event_id = ?", eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return record, nil
	}
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/northmeter/ledger/internal/ledger/domain"
	usageeventdomain "github.com/northmeter/ledger/internal/usageevent/domain"
	"github.com/northmeter/ledger/internal/usagetype"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type SchedulerParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Reconciler *Reconciler
	Config     Config `optional:"true"`
}

// Scheduler fans reconciliation passes out over a bounded worker pool.
// Different pairs run in parallel; the reconciler's keyed lock keeps
// passes for the same pair serialized.
type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	reconciler *Reconciler
}

func NewScheduler(p SchedulerParam) *Scheduler {
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("ledger.scheduler"),
		cfg:        p.Config.withDefaults(),
		reconciler: p.Reconciler,
	}
}

// RunForever ticks until the context is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("reconciliation tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce reconciles a batch of due streams.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.Reconcile(ctx, 0, "")
}

// duePairs claims the next batch of streams, least recently advanced
// first so a backlog wider than one batch rotates across ticks instead
// of starving the tail. Streams with no cursor yet come before
// everything else. Filters apply inside the query, so an explicit
// trigger always reaches its stream regardless of batch position.
func (s *Scheduler) duePairs(ctx context.Context, tenantID snowflake.ID, ut usagetype.UsageType) ([]usageeventdomain.Pair, error) {
	query := s.db.WithContext(ctx).
		Table("usage_events AS e").
		Select("e.tenant_id AS tenant_id, e.usage_type AS usage_type").
		Joins("LEFT JOIN billing_cursors AS c ON c.tenant_id = e.tenant_id AND c.usage_type = e.usage_type").
		Group("e.tenant_id, e.usage_type, c.last_advanced_at").
		Order("CASE WHEN c.last_advanced_at IS NULL THEN 0 ELSE 1 END").
		Order("c.last_advanced_at ASC").
		Order("e.tenant_id ASC, e.usage_type ASC").
		Limit(s.cfg.BatchSize)
	if tenantID != 0 {
		query = query.Where("e.tenant_id = ?", tenantID)
	}
	if ut != "" {
		query = query.Where("e.usage_type = ?", ut)
	}

	var pairs []usageeventdomain.Pair
	if err := query.Find(&pairs).Error; err != nil {
		return nil, err
	}
	return pairs, nil
}

// Reconcile runs passes for the selected streams. A zero tenant means
// every tenant; an empty usage type means every type. This backs both
// the scheduler tick and the explicit operator trigger.
func (s *Scheduler) Reconcile(ctx context.Context, tenantID snowflake.ID, ut usagetype.UsageType) error {
	pairs, err := s.duePairs(ctx, tenantID, ut)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}

	sem := make(chan struct{}, s.cfg.Workers)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, pair := range pairs {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(pair usageeventdomain.Pair) {
			defer wg.Done()
			defer func() { <-sem }()

			// A wedged pass must not hold its pair lock past the next tick.
			passCtx, cancel := context.WithTimeout(ctx, s.cfg.PassTimeout)
			defer cancel()

			result, err := s.reconciler.ReconcilePair(passCtx, pair)
			if err != nil {
				// A conflict just means another pass got there first.
				if errors.Is(err, domain.ErrReconciliationConflict) {
					return
				}
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			if result != nil && !result.NoOp {
				s.log.Info("pass complete",
					zap.String("tenant_id", pair.TenantID.String()),
					zap.String("usage_type", string(pair.UsageType)),
					zap.Time("watermark", result.NewWatermark),
					zap.Int("initial", result.Initial),
					zap.Int("corrections", result.Corrections),
					zap.Int64("late_events", result.LateEvents),
				)
			}
		}(pair)
	}

	wg.Wait()
	return errors.Join(errs...)
}

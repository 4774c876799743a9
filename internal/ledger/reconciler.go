package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/northmeter/ledger/internal/alert"
	"github.com/northmeter/ledger/internal/clock"
	"github.com/northmeter/ledger/internal/ledger/domain"
	obsmetrics "github.com/northmeter/ledger/internal/observability/metrics"
	usageeventdomain "github.com/northmeter/ledger/internal/usageevent/domain"
	"github.com/northmeter/ledger/internal/usagetype"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	alertCodeScanExhausted = "ledger_scan_retries_exhausted"
	distLockTTL            = 5 * time.Minute
)

type ReconcilerParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Reader   usageeventdomain.Reader
	Clock    clock.Clock
	Alerts   alert.Sink
	DistLock *Locker `optional:"true"`
	Config   Config  `optional:"true"`
}

// Reconciler advances billing cursors and emits usage summary versions.
// Passes for the same (tenant, usage type) pair are strictly serialized;
// passes for different pairs may run in parallel.
type Reconciler struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	reader   usageeventdomain.Reader
	clock    clock.Clock
	alerts   alert.Sink
	locks    *KeyedLock
	distLock *Locker
}

func NewReconciler(p ReconcilerParam) *Reconciler {
	return &Reconciler{
		db:       p.DB,
		log:      p.Log.Named("ledger.reconciler"),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		reader:   p.Reader,
		clock:    p.Clock,
		alerts:   p.Alerts,
		locks:    NewKeyedLock(),
		distLock: p.DistLock,
	}
}

// PassResult describes what one reconciliation pass did.
type PassResult struct {
	Pair         usageeventdomain.Pair
	OldWatermark time.Time
	NewWatermark time.Time
	Initial      int
	Corrections  int
	LateEvents   int64
	NoOp         bool
}

// ReconcilePair runs one pass for a stream: scan forward from the
// watermark up to targetEnd, re-scan the trailing lookback window, write
// summary versions, then advance the cursor. Summary writes always land
// before the cursor moves, so a crash in between repeats a pass that
// dedup makes a no-op.
func (r *Reconciler) ReconcilePair(ctx context.Context, pair usageeventdomain.Pair) (*PassResult, error) {
	key := pair.TenantID.String() + "/" + string(pair.UsageType)

	if !r.locks.TryLock(key) {
		obsmetrics.Ledger().IncPassConflict()
		return nil, domain.ErrReconciliationConflict
	}
	defer r.locks.Unlock(key)

	if r.distLock != nil {
		token, ok, err := r.distLock.TryLock(ctx, "ledger:pass:"+key, distLockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire distributed lock: %w", err)
		}
		if !ok {
			obsmetrics.Ledger().IncPassConflict()
			return nil, domain.ErrReconciliationConflict
		}
		defer func() {
			if err := r.distLock.Release(context.WithoutCancel(ctx), "ledger:pass:"+key, token); err != nil {
				r.log.Warn("release distributed lock", zap.Error(err))
			}
		}()
	}

	start := r.clock.Now()
	obsmetrics.Ledger().IncPassRun(string(pair.UsageType))
	defer func() {
		obsmetrics.Ledger().ObservePassDuration(string(pair.UsageType), r.clock.Now().Sub(start))
	}()

	result, err := r.runPass(ctx, pair)
	if err != nil {
		obsmetrics.Ledger().IncPassError(string(pair.UsageType), errorReason(err))
		return nil, err
	}
	return result, nil
}

func (r *Reconciler) runPass(ctx context.Context, pair usageeventdomain.Pair) (*PassResult, error) {
	now := r.clock.Now()

	cursor, err := r.loadOrInitCursor(ctx, pair, now)
	if err != nil {
		return nil, err
	}
	if cursor == nil {
		// Stream has no events yet; nothing to reconcile.
		return &PassResult{Pair: pair, NoOp: true}, nil
	}

	result := &PassResult{Pair: pair, OldWatermark: cursor.Watermark, NewWatermark: cursor.Watermark}

	// targetEnd stays behind "now" by the safety margin so we never race
	// the collector, and never crosses more than one period boundary per
	// pass so each pass closes at most one period.
	targetEnd := now.Add(-r.cfg.SafetyMargin)
	if boundary := r.periodStart(cursor.Watermark).Add(r.cfg.PeriodLength); boundary.Before(targetEnd) {
		targetEnd = boundary
	}

	scanEnd := targetEnd
	if scanEnd.Before(cursor.Watermark) {
		// Nothing new to close, but the lookback window may still have
		// received late arrivals.
		scanEnd = cursor.Watermark
	}

	// The scan starts at the boundary of the first period the lookback
	// window touches, so every affected period is read in full and its
	// total is recomputed from raw rows rather than patched.
	scanStart := r.periodStart(cursor.Watermark.Add(-cursor.Lookback()))
	if !scanEnd.After(scanStart) {
		result.NoOp = true
		return result, nil
	}

	events, err := r.readWithRetry(ctx, pair, usageeventdomain.Window{Start: scanStart, End: scanEnd})
	if err != nil {
		return nil, err
	}

	// A cancelled scan must abort before any summary is written.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buckets, err := r.aggregate(pair, events)
	if err != nil {
		return nil, err
	}

	periods := make([]time.Time, 0, len(buckets))
	for p := range buckets {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })

	for _, periodStart := range periods {
		bucket := buckets[periodStart]
		kind, lateDelta, err := r.writeSummaryVersion(ctx, pair, periodStart, bucket, cursor.Watermark)
		if err != nil {
			return nil, err
		}
		switch kind {
		case versionInitial:
			result.Initial++
			obsmetrics.Ledger().IncSummaryWrite("initial")
		case versionCorrection:
			result.Corrections++
			result.LateEvents += lateDelta
			obsmetrics.Ledger().IncSummaryWrite("correction")
			obsmetrics.Ledger().AddLateEvents(int(lateDelta))
		}
	}

	if scanEnd.After(cursor.Watermark) {
		if err := r.advanceCursor(ctx, cursor, scanEnd, now); err != nil {
			return nil, err
		}
		result.NewWatermark = scanEnd
	}

	result.NoOp = result.Initial == 0 && result.Corrections == 0 && !scanEnd.After(result.OldWatermark)
	return result, nil
}

type bucket struct {
	total decimal.Decimal
	count int64
	unit  string
}

// aggregate folds events into per-period totals, deduplicating by event
// id. Each id contributes exactly once regardless of processing order, so
// the sum is independent of any total order over the stream. Quantities
// only ever add within a single usage type; an event of any other type in
// the scan aborts the pass rather than polluting the total.
func (r *Reconciler) aggregate(pair usageeventdomain.Pair, events []usageeventdomain.UsageEvent) (map[time.Time]bucket, error) {
	buckets := make(map[time.Time]bucket)
	seen := make(map[string]struct{}, len(events))

	for _, ev := range events {
		if !usagetype.IsComparable(ev.UsageType, pair.UsageType) {
			return nil, fmt.Errorf("%w: event %s has type %s, stream expects %s",
				domain.ErrNotComparable, ev.EventID, ev.UsageType, pair.UsageType)
		}
		if _, dup := seen[ev.EventID]; dup {
			continue
		}
		seen[ev.EventID] = struct{}{}

		period := r.periodStart(ev.OccurredAt)
		b, ok := buckets[period]
		if !ok {
			b = bucket{total: decimal.Zero, unit: ev.Unit}
		}
		b.total = b.total.Add(ev.Quantity)
		b.count++
		buckets[period] = b
	}
	return buckets, nil
}

type versionKind int

const (
	versionNone versionKind = iota
	versionInitial
	versionCorrection
)

// writeSummaryVersion writes a new summary version for the period unless
// the recomputed total matches the current version, in which case nothing
// is emitted so the audit chain does not grow on no-op passes.
func (r *Reconciler) writeSummaryVersion(
	ctx context.Context,
	pair usageeventdomain.Pair,
	periodStart time.Time,
	b bucket,
	oldWatermark time.Time,
) (versionKind, int64, error) {

	kind := versionNone
	var lateDelta int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current domain.UsageSummary
		err := tx.
			Where("tenant_id = ? AND usage_type = ? AND period_start = ? AND superseded_by IS NULL",
				pair.TenantID, pair.UsageType, periodStart.UTC()).
			Order("pass_number DESC").
			First(&current).Error
		notFound := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !notFound {
			return err
		}

		periodEnd := periodStart.Add(r.cfg.PeriodLength)
		next := domain.UsageSummary{
			ID:            r.genID.Generate(),
			TenantID:      pair.TenantID,
			UsageType:     pair.UsageType,
			PeriodStart:   periodStart.UTC(),
			PeriodEnd:     periodEnd.UTC(),
			TotalQuantity: b.total,
			Unit:          b.unit,
			EventCount:    b.count,
			PassNumber:    0,
		}

		if notFound {
			if err := tx.Create(&next).Error; err != nil {
				return err
			}
			kind = versionInitial
			return nil
		}

		if current.TotalQuantity.Equal(b.total) && current.EventCount == b.count {
			return nil
		}

		next.PassNumber = current.PassNumber + 1
		if err := tx.Create(&next).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.UsageSummary{}).
			Where("id = ?", current.ID).
			Update("superseded_by", next.ID).Error; err != nil {
			return err
		}

		kind = versionCorrection
		if !periodEnd.After(oldWatermark) {
			lateDelta = b.count - current.EventCount
			if lateDelta < 0 {
				lateDelta = 0
			}
		}

		return r.prunePasses(tx, pair, periodStart, next.PassNumber)
	})
	if err != nil {
		return versionNone, 0, err
	}
	return kind, lateDelta, nil
}

// prunePasses bounds audit retention: superseded versions older than the
// retention window are deleted, the current version never is.
func (r *Reconciler) prunePasses(tx *gorm.DB, pair usageeventdomain.Pair, periodStart time.Time, latestPass int) error {
	floor := latestPass - r.cfg.MaxPassesRetained
	if floor < 0 {
		return nil
	}
	return tx.
		Where("tenant_id = ? AND usage_type = ? AND period_start = ? AND pass_number <= ? AND superseded_by IS NOT NULL",
			pair.TenantID, pair.UsageType, periodStart.UTC(), floor).
		Delete(&domain.UsageSummary{}).Error
}

func (r *Reconciler) advanceCursor(ctx context.Context, cursor *domain.BillingCursor, watermark, now time.Time) error {
	// The guard keeps the watermark monotonic even if a stale pass ever
	// reaches this point.
	return r.db.WithContext(ctx).
		Model(&domain.BillingCursor{}).
		Where("tenant_id = ? AND usage_type = ? AND watermark <= ?",
			cursor.TenantID, cursor.UsageType, watermark.UTC()).
		Updates(map[string]any{
			"watermark":        watermark.UTC(),
			"last_advanced_at": now.UTC(),
			"updated_at":       now.UTC(),
		}).Error
}

// loadOrInitCursor returns the stream's cursor, creating it at the first
// event's period boundary when the stream has never been reconciled.
// Returns nil when the stream has no events at all.
func (r *Reconciler) loadOrInitCursor(ctx context.Context, pair usageeventdomain.Pair, now time.Time) (*domain.BillingCursor, error) {
	var cursor domain.BillingCursor
	err := r.db.WithContext(ctx).
		First(&cursor, "tenant_id = ? AND usage_type = ?", pair.TenantID, pair.UsageType).Error
	if err == nil {
		return &cursor, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var first usageeventdomain.UsageEvent
	err = r.db.WithContext(ctx).
		Where("tenant_id = ? AND usage_type = ?", pair.TenantID, pair.UsageType).
		Order("occurred_at ASC").
		First(&first).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cursor = domain.BillingCursor{
		TenantID:        pair.TenantID,
		UsageType:       pair.UsageType,
		Watermark:       r.periodStart(first.OccurredAt),
		LookbackSeconds: int64(r.cfg.LookbackWindow / time.Second),
		LastAdvancedAt:  now.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&cursor).Error; err != nil {
		return nil, err
	}
	return &cursor, nil
}

// readWithRetry scans the event store, retrying transient failures with
// exponential backoff. Exhausting retries raises an operator alert and
// leaves the cursor untouched.
func (r *Reconciler) readWithRetry(
	ctx context.Context,
	pair usageeventdomain.Pair,
	window usageeventdomain.Window,
) ([]usageeventdomain.UsageEvent, error) {

	backoff := r.cfg.ScanRetryBackoff
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxScanAttempts; attempt++ {
		events, err := r.reader.Read(ctx, pair.TenantID, pair.UsageType, window)
		if err == nil {
			return events, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err

		if attempt == r.cfg.MaxScanAttempts {
			break
		}
		obsmetrics.Ledger().IncScanRetry()
		r.log.Warn("event scan failed, retrying",
			zap.String("tenant_id", pair.TenantID.String()),
			zap.String("usage_type", string(pair.UsageType)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	obsmetrics.Ledger().IncAlertRaised(alertCodeScanExhausted)
	r.alerts.Raise(ctx, alert.Event{
		Severity: alert.SeverityCritical,
		Code:     alertCodeScanExhausted,
		Message:  "event scan failed after all retries; cursor not advanced",
		TenantID: pair.TenantID.String(),
		Fields: map[string]any{
			"usage_type": string(pair.UsageType),
			"error":      lastErr.Error(),
		},
	})
	return nil, fmt.Errorf("%w: %v", domain.ErrScanFailed, lastErr)
}

func (r *Reconciler) periodStart(t time.Time) time.Time {
	return t.UTC().Truncate(r.cfg.PeriodLength)
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrScanFailed):
		return "scan_failed"
	case errors.Is(err, domain.ErrNotComparable):
		return "not_comparable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "unknown"
	}
}

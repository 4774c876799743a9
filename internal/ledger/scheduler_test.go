package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/northmeter/ledger/internal/clock"
	"github.com/northmeter/ledger/internal/ledger/domain"
	"github.com/northmeter/ledger/internal/usagetype"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestScheduler(t *testing.T, gdb *gorm.DB, clk clock.Clock, cfg Config) *Scheduler {
	t.Helper()

	return NewScheduler(SchedulerParam{
		DB:         gdb,
		Log:        zap.NewNop(),
		Reconciler: newTestReconciler(t, gdb, clk, nil, nil),
		Config:     cfg,
	})
}

func TestSchedulerReconcilesEveryActiveStream(t *testing.T) {
	gdb := setupDB(t)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tenantA := node.Generate()
	tenantB := node.Generate()

	seedEvent(t, gdb, node, "a1", tenantA, usagetype.CapacityTokens, base.Add(time.Hour), 10)
	seedEvent(t, gdb, node, "a2", tenantA, usagetype.StreamMinutes, base.Add(time.Hour), 5)
	seedEvent(t, gdb, node, "b1", tenantB, usagetype.CapacityTokens, base.Add(time.Hour), 3)

	s := newTestScheduler(t, gdb, clock.NewFakeClock(base.Add(25*time.Hour)), testConfig())
	require.NoError(t, s.RunOnce(context.Background()))

	var cursors int64
	require.NoError(t, gdb.Model(&domain.BillingCursor{}).Count(&cursors).Error)
	require.EqualValues(t, 3, cursors)

	var summaries int64
	require.NoError(t, gdb.Model(&domain.UsageSummary{}).Count(&summaries).Error)
	require.EqualValues(t, 3, summaries)
}

func TestSchedulerFiltersByTenantAndType(t *testing.T) {
	gdb := setupDB(t)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tenantA := node.Generate()
	tenantB := node.Generate()

	seedEvent(t, gdb, node, "a1", tenantA, usagetype.CapacityTokens, base.Add(time.Hour), 10)
	seedEvent(t, gdb, node, "b1", tenantB, usagetype.CapacityTokens, base.Add(time.Hour), 3)

	s := newTestScheduler(t, gdb, clock.NewFakeClock(base.Add(25*time.Hour)), testConfig())
	require.NoError(t, s.Reconcile(context.Background(), tenantA, usagetype.CapacityTokens))

	var cursors []domain.BillingCursor
	require.NoError(t, gdb.Find(&cursors).Error)
	require.Len(t, cursors, 1)
	require.Equal(t, tenantA, cursors[0].TenantID)
}

func TestSchedulerRotatesWhenBacklogExceedsBatch(t *testing.T) {
	gdb := setupDB(t)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tenantA := node.Generate()
	tenantB := node.Generate()

	seedEvent(t, gdb, node, "a1", tenantA, usagetype.CapacityTokens, base.Add(time.Hour), 10)
	seedEvent(t, gdb, node, "b1", tenantB, usagetype.CapacityTokens, base.Add(time.Hour), 3)

	// More streams than one batch. Each tick must pick the stream that
	// has waited longest, so every tenant gets its turn.
	cfg := testConfig()
	cfg.BatchSize = 1
	clk := clock.NewFakeClock(base.Add(25 * time.Hour))
	s := newTestScheduler(t, gdb, clk, cfg)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RunOnce(context.Background()))
		clk.Advance(time.Minute)
	}

	var cursors []domain.BillingCursor
	require.NoError(t, gdb.Order("tenant_id ASC").Find(&cursors).Error)
	require.Len(t, cursors, 2)
	require.Equal(t, tenantA, cursors[0].TenantID)
	require.Equal(t, tenantB, cursors[1].TenantID)
	require.False(t, cursors[0].Watermark.Before(base.Add(24*time.Hour)))
	require.False(t, cursors[1].Watermark.Before(base.Add(24*time.Hour)))
}

func TestSchedulerExplicitTriggerIgnoresBatchPosition(t *testing.T) {
	gdb := setupDB(t)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tenantA := node.Generate()
	tenantB := node.Generate()

	seedEvent(t, gdb, node, "a1", tenantA, usagetype.CapacityTokens, base.Add(time.Hour), 10)
	seedEvent(t, gdb, node, "b1", tenantB, usagetype.CapacityTokens, base.Add(time.Hour), 3)

	// Even with a batch of one, a trigger that names the last stream in
	// scan order must reconcile it on the first call.
	cfg := testConfig()
	cfg.BatchSize = 1
	s := newTestScheduler(t, gdb, clock.NewFakeClock(base.Add(25*time.Hour)), cfg)
	require.NoError(t, s.Reconcile(context.Background(), tenantB, usagetype.CapacityTokens))

	var cursors []domain.BillingCursor
	require.NoError(t, gdb.Find(&cursors).Error)
	require.Len(t, cursors, 1)
	require.Equal(t, tenantB, cursors[0].TenantID)
}

func TestSchedulerEmptyStoreIsQuiet(t *testing.T) {
	gdb := setupDB(t)
	s := newTestScheduler(t, gdb, clock.NewFakeClock(time.Now()), testConfig())
	require.NoError(t, s.RunOnce(context.Background()))
}

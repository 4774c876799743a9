package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/northmeter/ledger/internal/attribution"
	attributiondomain "github.com/northmeter/ledger/internal/attribution/domain"
	ledgerdomain "github.com/northmeter/ledger/internal/ledger/domain"
	"github.com/northmeter/ledger/internal/usagetype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	// In-memory sqlite is per-connection; pin the pool to one.
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, gdb.AutoMigrate(
		&attributiondomain.TenantAttribution{},
		&ledgerdomain.BillingCursor{},
		&ledgerdomain.UsageSummary{},
	))
	return gdb
}

func newTestService(t *testing.T, gdb *gorm.DB) *Service {
	t.Helper()

	return NewService(ServiceParam{
		DB:              gdb,
		Log:             zap.NewNop(),
		AttributionRepo: attribution.NewRepository(gdb),
	})
}

func seedSummary(t *testing.T, gdb *gorm.DB, node *snowflake.Node, tenantID snowflake.ID, ut usagetype.UsageType, periodStart time.Time, pass int, total int64, superseded bool) ledgerdomain.UsageSummary {
	t.Helper()

	summary := ledgerdomain.UsageSummary{
		ID:            node.Generate(),
		TenantID:      tenantID,
		UsageType:     ut,
		PeriodStart:   periodStart,
		PeriodEnd:     periodStart.Add(24 * time.Hour),
		TotalQuantity: decimal.NewFromInt(total),
		Unit:          ut.Unit(),
		EventCount:    1,
		PassNumber:    pass,
	}
	if superseded {
		successor := node.Generate()
		summary.SupersededBy = &successor
	}
	require.NoError(t, gdb.Create(&summary).Error)
	return summary
}

func TestGetUsageSummariesReturnsCurrentVersionsOnly(t *testing.T) {
	gdb := setupDB(t)
	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	tenantID := node.Generate()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	seedSummary(t, gdb, node, tenantID, usagetype.CapacityTokens, base, 0, 10, true)
	seedSummary(t, gdb, node, tenantID, usagetype.CapacityTokens, base, 1, 17, false)
	seedSummary(t, gdb, node, tenantID, usagetype.CapacityTokens, base.Add(24*time.Hour), 0, 4, false)

	// Watermark far past both periods, lookback behind them, so both read
	// as final.
	require.NoError(t, gdb.Create(&ledgerdomain.BillingCursor{
		TenantID:        tenantID,
		UsageType:       usagetype.CapacityTokens,
		Watermark:       base.Add(30 * 24 * time.Hour),
		LookbackSeconds: int64(72 * time.Hour / time.Second),
		LastAdvancedAt:  base,
	}).Error)

	actor := Actor{Type: ActorTenant, TenantID: tenantID, Scopes: []string{ScopeUsageRead}}
	views, err := newTestService(t, gdb).GetUsageSummaries(
		context.Background(), actor, tenantID, usagetype.CapacityTokens, PeriodRange{})
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.True(t, views[0].TotalQuantity.Equal(decimal.NewFromInt(17)))
	require.Equal(t, 1, views[0].PassNumber)
	require.False(t, views[0].Provisional)
	require.False(t, views[1].Provisional)
}

func TestGetUsageSummariesProvisionalInsideLookback(t *testing.T) {
	gdb := setupDB(t)
	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	tenantID := node.Generate()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	seedSummary(t, gdb, node, tenantID, usagetype.CapacityTokens, base, 0, 10, false)

	// Period closed an hour ago: behind the watermark but still inside
	// the lookback window.
	require.NoError(t, gdb.Create(&ledgerdomain.BillingCursor{
		TenantID:        tenantID,
		UsageType:       usagetype.CapacityTokens,
		Watermark:       base.Add(25 * time.Hour),
		LookbackSeconds: int64(72 * time.Hour / time.Second),
		LastAdvancedAt:  base,
	}).Error)

	actor := Actor{Type: ActorTenant, TenantID: tenantID, Scopes: []string{ScopeUsageRead}}
	views, err := newTestService(t, gdb).GetUsageSummaries(
		context.Background(), actor, tenantID, usagetype.CapacityTokens, PeriodRange{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.True(t, views[0].Provisional)
}

func TestGetUsageSummariesPeriodRange(t *testing.T) {
	gdb := setupDB(t)
	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	tenantID := node.Generate()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for day := 0; day < 4; day++ {
		seedSummary(t, gdb, node, tenantID, usagetype.CapacityTokens, base.Add(time.Duration(day)*24*time.Hour), 0, 1, false)
	}

	actor := Actor{Type: ActorService, Scopes: []string{ScopeUsageReadAll}}
	views, err := newTestService(t, gdb).GetUsageSummaries(
		context.Background(), actor, tenantID, usagetype.CapacityTokens, PeriodRange{
			From: base.Add(24 * time.Hour),
			To:   base.Add(3 * 24 * time.Hour),
		})
	require.NoError(t, err)
	require.Len(t, views, 2)
}

func TestGetUsageSummariesDeniedForOtherTenant(t *testing.T) {
	gdb := setupDB(t)
	node, err := snowflake.NewNode(6)
	require.NoError(t, err)

	actor := Actor{Type: ActorTenant, TenantID: node.Generate(), Scopes: []string{ScopeUsageRead}}
	_, err = newTestService(t, gdb).GetUsageSummaries(
		context.Background(), actor, node.Generate(), usagetype.CapacityTokens, PeriodRange{})
	require.ErrorIs(t, err, ErrAccessDenied)
}

func TestGetUsageSummariesRejectsUnknownType(t *testing.T) {
	gdb := setupDB(t)
	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	tenantID := node.Generate()

	actor := Actor{Type: ActorTenant, TenantID: tenantID, Scopes: []string{ScopeUsageRead}}
	_, err = newTestService(t, gdb).GetUsageSummaries(
		context.Background(), actor, tenantID, usagetype.UsageType("cpu_seconds"), PeriodRange{})
	require.ErrorIs(t, err, usagetype.ErrUnknownUsageType)
}

func TestGetBillingCursor(t *testing.T) {
	gdb := setupDB(t)
	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	tenantID := node.Generate()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, gdb.Create(&ledgerdomain.BillingCursor{
		TenantID:        tenantID,
		UsageType:       usagetype.CapacityTokens,
		Watermark:       base,
		LookbackSeconds: 3600,
		LastAdvancedAt:  base,
	}).Error)

	svc := newTestService(t, gdb)
	ops := Actor{Type: ActorService, Scopes: []string{ScopeCursorRead}}

	cursor, err := svc.GetBillingCursor(context.Background(), ops, tenantID, usagetype.CapacityTokens)
	require.NoError(t, err)
	require.True(t, cursor.Watermark.Equal(base))

	_, err = svc.GetBillingCursor(context.Background(), ops, tenantID, usagetype.StreamMinutes)
	require.ErrorIs(t, err, ledgerdomain.ErrCursorNotFound)

	// The cursor surface is never visible to tenant credentials.
	tenantActor := Actor{Type: ActorTenant, TenantID: tenantID, Scopes: []string{ScopeUsageRead}}
	_, err = svc.GetBillingCursor(context.Background(), tenantActor, tenantID, usagetype.CapacityTokens)
	require.ErrorIs(t, err, ErrAccessDenied)
}

func TestGetAttributionOrganicIsNil(t *testing.T) {
	gdb := setupDB(t)
	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	tenantID := node.Generate()

	actor := Actor{Type: ActorTenant, TenantID: tenantID, Scopes: []string{ScopeUsageRead}}
	record, err := newTestService(t, gdb).GetAttribution(context.Background(), actor, tenantID)
	require.NoError(t, err)
	require.Nil(t, record)
}

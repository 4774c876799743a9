package migration

import (
	attributiondomain "github.com/northmeter/ledger/internal/attribution/domain"
	ledgerdomain "github.com/northmeter/ledger/internal/ledger/domain"
	tenantdomain "github.com/northmeter/ledger/internal/tenant/domain"
	usageeventdomain "github.com/northmeter/ledger/internal/usageevent/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migration",
	fx.Invoke(Run),
)

// Run applies the schema. The models own their indexes, so the same
// migration works on postgres and on the sqlite used in tests.
func Run(db *gorm.DB, log *zap.Logger) error {
	log = log.Named("migration")

	if err := db.AutoMigrate(
		&tenantdomain.Tenant{},
		&attributiondomain.TenantAttribution{},
		&usageeventdomain.UsageEvent{},
		&ledgerdomain.BillingCursor{},
		&ledgerdomain.UsageSummary{},
	); err != nil {
		log.Error("migration failed", zap.Error(err))
		return err
	}

	log.Info("migration applied")
	return nil
}

package attribution

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/northmeter/ledger/internal/attribution/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

// Insert writes the attribution row for a tenant. A second insert for the
// same tenant is a no-op: the first capture wins and is never overwritten.
func (r *repository) Insert(ctx context.Context, record *domain.TenantAttribution) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoNothing: true,
		}).
		Create(record).Error
}

func (r *repository) FindByTenantID(ctx context.Context, tenantID snowflake.ID) (*domain.TenantAttribution, error) {
	var record domain.TenantAttribution
	err := r.db.WithContext(ctx).First(&record, "tenant_id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Package domain contains persistence models for tenant acquisition
// attribution. One row per tenant at most; an absent row means the tenant
// is organic, which is a valid state rather than an error.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// TenantAttribution records how a tenant was acquired. It is written once
// at tenant creation and never mutated. Stored paths never carry a query
// string or fragment.
type TenantAttribution struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID      snowflake.ID `json:"tenant_id" gorm:"not null;uniqueIndex"`
	UTMSource     *string      `json:"utm_source" gorm:"type:text"`
	UTMMedium     *string      `json:"utm_medium" gorm:"type:text"`
	UTMCampaign   *string      `json:"utm_campaign" gorm:"type:text"`
	UTMContent    *string      `json:"utm_content" gorm:"type:text"`
	UTMTerm       *string      `json:"utm_term" gorm:"type:text"`
	ReferralCode  *string      `json:"referral_code" gorm:"type:text"`
	SignupChannel string       `json:"signup_channel" gorm:"type:text"`
	SignupMethod  string       `json:"signup_method" gorm:"type:text"`
	LandingPage   string       `json:"landing_page" gorm:"type:text"`
	Referrer      string       `json:"referrer" gorm:"type:text"`
	CapturedAt    time.Time    `json:"captured_at" gorm:"not null"`
	CreatedAt     time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TenantAttribution) TableName() string { return "tenant_attributions" }

type Repository interface {
	Insert(ctx context.Context, record *TenantAttribution) error
	FindByTenantID(ctx context.Context, tenantID snowflake.ID) (*TenantAttribution, error)
}

var (
	// ErrPersistFailed is advisory: attribution is growth metadata, so a
	// failed write never fails the registration that produced it.
	ErrPersistFailed = errors.New("attribution_persist_failed")
	ErrInvalidTenant = errors.New("invalid_tenant")
)

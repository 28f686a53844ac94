package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	STATUS_ACTIVE   = "active"
	STATUS_DISABLED = "disabled"
)

const (
	TIER_FREE   = "free"
	TIER_BASIC  = "basic"
	TIER_PRO    = "pro"
	TIER_STUDIO = "studio"
)

const (
	SUB_STATUS_ACTIVE   = "active"
	SUB_STATUS_PAST_DUE = "past_due"
	SUB_STATUS_CANCELED = "canceled"
)

// Account is the billing/usage identity holding a token balance and
// subscription state. Tokens are mutated only through the ledger's atomic
// conditional updates; tier and the Stripe references are mutated only by the
// billing reconciler.
type Account struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	Email                string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Status               string         `gorm:"type:varchar(20);default:'active';index" json:"status" validate:"oneof=active disabled"`
	Tokens               int64          `gorm:"not null;default:0" json:"tokens"`
	Tier                 string         `gorm:"type:varchar(50);not null;default:'free';index" json:"tier"`
	SubscriptionStatus   string         `gorm:"type:varchar(32);default:''" json:"subscription_status"`
	StripeCustomerID     string         `gorm:"type:varchar(191);default:'';index" json:"-"`
	StripeSubscriptionID string         `gorm:"type:varchar(191);default:'';index" json:"-"`
	LastRenewalAt        time.Time      `gorm:"type:timestamp;autoCreateTime;index" json:"last_renewal_at"`
	RequestCount         int64          `gorm:"not null;default:0" json:"request_count"`
	CreatedAt            time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"index" json:"-"`
}

func (a *Account) Validate() error {
	v := validator.New()
	return v.Struct(a)
}

// IsFree reports whether the account is on the free tier.
func (a *Account) IsFree() bool {
	return a.Tier == "" || a.Tier == TIER_FREE
}

// IsPaid reports whether the account currently holds a paid tier.
func (a *Account) IsPaid() bool {
	return !a.IsFree()
}

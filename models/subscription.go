package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Subscription is created when a recurring invoice is marked paid.
type Subscription struct {
	ID           string              `gorm:"type:char(36);primaryKey" json:"id"`
	OrgId        string              `gorm:"type:char(36);index;not null" json:"org_id"`
	UserId       string              `gorm:"type:char(36);index;not null" json:"user_id"`
	InvoiceId    string              `gorm:"type:char(36);index;not null" json:"invoice_id"`
	Status       SubscriptionStatus  `gorm:"not null" json:"status"`
	PeriodLength int                 `gorm:"column:r_period_l;not null" json:"r_period_l"`
	PeriodType   RecurringPeriodType `gorm:"column:r_period_t;size:1;not null" json:"r_period_t"`
	CreatedAt    time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (sub *Subscription) BeforeCreate(tx *gorm.DB) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	return nil
}

package models

import (
	"gorm.io/gorm"
)

// AllModels lists every table owned by the service, in dependency order.
func AllModels() []any {
	return []any{
		&Organization{}, &ApiToken{},
		&Role{}, &Address{}, &User{},
		&Service{}, &Coupon{},
		&Invoice{}, &InvoiceItem{},
		&Proposal{}, &ProposalItem{},
		&Order{}, &Subscription{},
		&LifecycleEvent{}, &IdempotencyKey{},
	}
}

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}

package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/serviceengine_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service is the catalogue entry referenced by invoice items, proposal items and orders.
type Service struct {
	ID        string          `gorm:"type:char(36);primaryKey" json:"id"`
	OrgId     string          `gorm:"type:char(36);index;not null" json:"org_id"`
	Name      string          `gorm:"size:255;not null" json:"name"`
	Price     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	Currency  string          `gorm:"size:3;not null" json:"currency"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (svc *Service) BeforeCreate(tx *gorm.DB) error {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	return nil
}

// servicesById loads live (non-deleted) services of the org keyed by id.
func (s *Store) servicesById(ctx context.Context, orgId string, ids []string) (map[string]*Service, error) {
	services, err := utils.FetchModelsByIds[Service](ctx, s.db, orgId, ids)
	if err != nil {
		return nil, err
	}
	byId := make(map[string]*Service, len(services))
	for _, svc := range services {
		byId[svc.ID] = svc
	}
	return byId, nil
}

package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role.DashboardAccess 0 marks a client role.
type Role struct {
	ID              string    `gorm:"type:char(36);primaryKey" json:"id"`
	OrgId           string    `gorm:"type:char(36);index;not null" json:"org_id"`
	Name            string    `gorm:"size:100;not null" json:"name"`
	DashboardAccess int       `gorm:"not null" json:"dashboard_access"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

const clientRoleName = "Client"

func (r *Role) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// clientRole returns the org's client role, creating it on first use.
func (s *Store) clientRole(ctx context.Context, orgId string) (*Role, error) {
	var role Role
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND dashboard_access = ?", orgId, 0).
		Order("created_at ASC").
		First(&role).Error
	if err == nil {
		return &role, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	role = Role{OrgId: orgId, Name: clientRoleName, DashboardAccess: 0}
	if err := s.db.WithContext(ctx).Create(&role).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

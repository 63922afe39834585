package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/serviceengine_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// User is a client account inside an org. Email is unique per org.
type User struct {
	ID        string          `gorm:"type:char(36);primaryKey" json:"id"`
	OrgId     string          `gorm:"type:char(36);not null;uniqueIndex:idx_users_org_email,priority:1" json:"org_id"`
	Email     string          `gorm:"size:191;not null;uniqueIndex:idx_users_org_email,priority:2" json:"email"`
	NameF     string          `gorm:"size:100;not null" json:"name_f"`
	NameL     string          `gorm:"size:100;not null" json:"name_l"`
	Company   *string         `gorm:"size:255" json:"company"`
	Phone     *string         `gorm:"size:30" json:"phone"`
	TaxId     *string         `gorm:"size:50" json:"tax_id"`
	AddressId *string         `gorm:"type:char(36)" json:"address_id"`
	Address   *Address        `gorm:"foreignKey:AddressId" json:"address"`
	RoleId    *string         `gorm:"type:char(36);index" json:"role_id"`
	Role      *Role           `gorm:"foreignKey:RoleId" json:"role"`
	Status    UserStatus      `gorm:"not null" json:"status"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"balance"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.NameF + " " + u.NameL)
}

// NewClient holds the seed fields for a client provisioned on the fly.
type NewClient struct {
	Email   string
	NameF   string
	NameL   string
	Company *string
	Phone   *string
}

// getClient loads a client with its address, scoped by org.
func (s *Store) getClient(ctx context.Context, orgId string, id string) (*User, error) {
	return utils.FetchModel[User](ctx, s.db, orgId, id, "Address")
}

func (s *Store) findClientByEmail(ctx context.Context, orgId string, email string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Preload("Address").
		Where("org_id = ? AND email = ?", orgId, utils.NormalizeEmail(email)).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &user, nil
}

// findOrCreateClient reuses the org's user with the same email, otherwise
// provisions an active client-role user from input. created reports which.
func (s *Store) findOrCreateClient(ctx context.Context, orgId string, input NewClient) (user *User, created bool, err error) {
	email := utils.NormalizeEmail(input.Email)
	existing, err := s.findClientByEmail(ctx, orgId, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, false, err
	}

	role, err := s.clientRole(ctx, orgId)
	if err != nil {
		return nil, false, err
	}
	newUser := User{
		OrgId:   orgId,
		Email:   email,
		NameF:   strings.TrimSpace(input.NameF),
		NameL:   strings.TrimSpace(input.NameL),
		Company: input.Company,
		Phone:   input.Phone,
		RoleId:  &role.ID,
		Status:  UserStatusActive,
		Balance: decimal.Zero,
	}
	if err := s.db.WithContext(ctx).Create(&newUser).Error; err != nil {
		return nil, false, err
	}
	return &newUser, true, nil
}

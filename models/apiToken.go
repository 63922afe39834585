package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/serviceengine_backend/config"
	"github.com/mmdatafocus/serviceengine_backend/utils"
	"gorm.io/gorm"
)

type Organization struct {
	ID        string    `gorm:"type:char(36);primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *Organization) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

// ApiToken stores only the sha256 of the bearer token it was issued for.
type ApiToken struct {
	ID         string     `gorm:"type:char(36);primaryKey" json:"id"`
	OrgId      string     `gorm:"type:char(36);not null;index" json:"org_id"`
	UserId     *string    `gorm:"type:char(36)" json:"user_id"`
	Name       string     `gorm:"size:100;not null" json:"name"`
	TokenHash  string     `gorm:"size:64;not null;uniqueIndex" json:"-"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ApiIdentity is what a valid bearer token resolves to.
type ApiIdentity struct {
	TokenId   string     `json:"token_id"`
	OrgId     string     `json:"org_id"`
	UserId    string     `json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at"`
}

var ErrInvalidToken = errors.New("invalid api token")

func apiTokenCacheKey(hash string) string {
	return "api_token:" + hash
}

// IssueApiToken creates the token row and returns the signed bearer token.
func (s *Store) IssueApiToken(ctx context.Context, orgId string, userId *string, name string, expiresAt *time.Time) (string, *ApiToken, error) {
	record := &ApiToken{
		ID:        uuid.NewString(),
		OrgId:     orgId,
		UserId:    userId,
		Name:      name,
		ExpiresAt: expiresAt,
	}
	token, err := utils.JwtGenerate(record.ID, orgId, utils.DereferencePtr(userId, ""), expiresAt)
	if err != nil {
		return "", nil, err
	}
	record.TokenHash = utils.HashToken(token)
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return "", nil, err
	}
	return token, record, nil
}

// ResolveApiToken verifies a bearer token against its api_tokens row. Resolved
// identities are cached until the row would expire, at most ApiTokenCacheTTL.
func (s *Store) ResolveApiToken(ctx context.Context, raw string) (*ApiIdentity, error) {
	claims, err := utils.JwtValidate(raw)
	if err != nil {
		if errors.Is(err, utils.ErrTokenExpired) {
			return nil, utils.ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	now := s.Now()
	hash := utils.HashToken(raw)

	cached, err := utils.RetrieveRedis[ApiIdentity](ctx, apiTokenCacheKey(hash))
	if err != nil {
		config.LogWarn(s.logger, "models", "ResolveApiToken", "read token cache", claims.TokenId, err.Error())
	}
	if cached != nil && cached.TokenId == claims.TokenId {
		if cached.ExpiresAt != nil && !cached.ExpiresAt.After(now) {
			return nil, utils.ErrTokenExpired
		}
		return cached, nil
	}

	var record ApiToken
	err = s.db.WithContext(utils.SetSkipOrgScopeInContext(ctx, true)).
		Where("id = ? AND token_hash = ?", claims.TokenId, hash).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if record.ExpiresAt != nil && !record.ExpiresAt.After(now) {
		return nil, utils.ErrTokenExpired
	}

	identity := &ApiIdentity{
		TokenId:   record.ID,
		OrgId:     record.OrgId,
		UserId:    utils.DereferencePtr(record.UserId, ""),
		ExpiresAt: record.ExpiresAt,
	}
	ttl := config.ApiTokenCacheTTL()
	if record.ExpiresAt != nil {
		ttl = min(ttl, record.ExpiresAt.Sub(now))
	}
	if err := utils.StoreRedis(ctx, apiTokenCacheKey(hash), identity, ttl); err != nil {
		config.LogWarn(s.logger, "models", "ResolveApiToken", "write token cache", record.ID, err.Error())
	}
	if err := s.db.WithContext(utils.SetSkipOrgScopeInContext(ctx, true)).
		Model(&ApiToken{}).
		Where("id = ?", record.ID).
		Update("last_used_at", now).Error; err != nil {
		config.LogWarn(s.logger, "models", "ResolveApiToken", "stamp last_used_at", record.ID, err.Error())
	}
	return identity, nil
}

// RevokeApiToken deletes the row and drops its cached identity.
func (s *Store) RevokeApiToken(ctx context.Context, raw string) error {
	hash := utils.HashToken(raw)
	if err := s.db.WithContext(utils.SetSkipOrgScopeInContext(ctx, true)).
		Where("token_hash = ?", hash).
		Delete(&ApiToken{}).Error; err != nil {
		return err
	}
	return utils.ClearRedis(ctx, apiTokenCacheKey(hash))
}

func (s *Store) CreateOrganization(ctx context.Context, name string) (*Organization, error) {
	org := &Organization{Name: name}
	if err := s.db.WithContext(ctx).Create(org).Error; err != nil {
		return nil, err
	}
	return org, nil
}

package utils

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

/* DB fetching */

// fetch model from db, scoped by org_id
// (malformed ids and missing rows return ErrorRecordNotFound)
func FetchModel[T any](ctx context.Context, db *gorm.DB, orgId string, id string, associations ...string) (*T, error) {
	if !IsValidUUID(id) {
		return nil, ErrorRecordNotFound
	}
	dbCtx := db.WithContext(ctx).Where("org_id = ?", orgId)
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	err := dbCtx.Where("id = ?", id).First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrorRecordNotFound
		}
		return nil, fmt.Errorf("fetch %s %s: %w", GetTypeName[T](), id, err)
	}
	return &result, nil
}

// fetch models by ids, scoped by org_id; missing ids are simply absent from the result
func FetchModelsByIds[T any](ctx context.Context, db *gorm.DB, orgId string, ids []string) ([]*T, error) {
	var results []*T
	unqIds := UniqueSlice(ids)
	if len(unqIds) == 0 {
		return results, nil
	}
	err := db.WithContext(ctx).
		Where("org_id = ?", orgId).
		Where("id IN ?", unqIds).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

package utils

import (
	"context"
	"reflect"

	"gorm.io/gorm"
)

// check if id exists in the org; malformed ids never exist
func ResourceExists[T any](ctx context.Context, db *gorm.DB, orgId string, id string) (bool, error) {
	if !IsValidUUID(id) {
		return false, nil
	}
	count, err := ResourceCountWhere[T](ctx, db, orgId, "id = ?", id)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// returns the ids (in input order, deduplicated) that do not resolve in the org
func MissingResourceIds[T any](ctx context.Context, db *gorm.DB, orgId string, ids []string) ([]string, error) {
	unqIds := UniqueSlice(ids)
	if len(unqIds) == 0 {
		return nil, nil
	}

	var model T
	var found []string
	err := db.WithContext(ctx).Model(&model).
		Where("org_id = ?", orgId).
		Where("id IN ?", unqIds).
		Pluck("id", &found).Error
	if err != nil {
		return nil, err
	}

	inDB := make(map[string]bool, len(found))
	for _, id := range found {
		inDB[id] = true
	}
	var missing []string
	for _, id := range unqIds {
		if !inDB[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// count records, using WHERE org_id = ? AND $condition
// orgId can be blank for internal jobs
func ResourceCountWhere[T any](ctx context.Context, db *gorm.DB, orgId string, condition string, value ...interface{}) (int64, error) {
	var model T

	dbCtx := db.WithContext(ctx).Model(&model)
	if orgId != "" {
		dbCtx = dbCtx.Where("org_id = ?", orgId)
	}
	dbCtx = dbCtx.Where(condition, value...)
	var count int64
	if err := dbCtx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func GetTypeName[T any]() string {
	var v T
	return reflect.TypeOf(v).Name()
}

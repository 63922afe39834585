package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/serviceengine_backend/models"
	"gorm.io/gorm"
)

var ErrNothingToReplay = errors.New("no dead lifecycle events matched")

// ReplayDeadEvents moves DEAD events of one org back to PENDING with a fresh
// attempt budget. With no ids every DEAD event of the org is replayed.
func ReplayDeadEvents(ctx context.Context, db *gorm.DB, orgId string, ids []string, now time.Time) (int64, error) {
	q := db.WithContext(ctx).
		Model(&models.LifecycleEvent{}).
		Where("org_id = ? AND status = ?", orgId, models.OutboxStatusDead)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	res := q.Updates(map[string]interface{}{
		"status":          models.OutboxStatusPending,
		"attempts":        0,
		"next_attempt_at": now,
		"locked_at":       nil,
		"locked_by":       nil,
		"last_error":      nil,
	})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNothingToReplay
	}
	return res.RowsAffected, nil
}

package workflow

import (
	"context"
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/serviceengine_backend/models"
	"gorm.io/gorm"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// staleStartedAfter is how long a STARTED key blocks redelivery before another
// worker may take it over.
const staleStartedAfter = 5 * time.Minute

func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func idempotencyScope(tx *gorm.DB, orgId, handlerName, messageId string) *gorm.DB {
	return tx.Model(&models.IdempotencyKey{}).
		Where("org_id = ? AND handler_name = ? AND message_id = ?", orgId, handlerName, messageId)
}

// BeginIdempotency inserts STARTED. If SUCCEEDED exists, returns (true, nil) meaning "skip safely".
func BeginIdempotency(tx *gorm.DB, orgId, handlerName, messageId string) (skip bool, err error) {
	key := models.IdempotencyKey{
		OrgId:       orgId,
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err == nil {
		return false, nil
	} else if !isDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := idempotencyScope(tx, orgId, handlerName, messageId).First(&existing).Error; err != nil {
		return false, err
	}

	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return true, nil
	case models.IdempotencyStatusStarted:
		// another worker holds it; ask the broker to redeliver unless it went stale
		if time.Since(existing.UpdatedAt) < staleStartedAfter {
			return false, ErrIdempotencyInProgress
		}
	}
	return false, tx.Model(&models.IdempotencyKey{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
}

func MarkIdempotencySucceeded(tx *gorm.DB, orgId, handlerName, messageId string) error {
	return idempotencyScope(tx, orgId, handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "last_error": nil}).Error
}

func MarkIdempotencyFailed(tx *gorm.DB, orgId, handlerName, messageId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return idempotencyScope(tx, orgId, handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}

// HandleOnce runs fn at most once per (org, handler, message). A message that
// already succeeded is not run again and skipped is true.
func HandleOnce(ctx context.Context, db *gorm.DB, orgId, handlerName, messageId string, fn func(ctx context.Context) error) (skipped bool, err error) {
	conn := db.WithContext(ctx)
	skip, err := BeginIdempotency(conn, orgId, handlerName, messageId)
	if err != nil {
		return false, err
	}
	if skip {
		return true, nil
	}
	if err := fn(ctx); err != nil {
		if markErr := MarkIdempotencyFailed(conn, orgId, handlerName, messageId, err); markErr != nil {
			return false, errors.Join(err, markErr)
		}
		return false, err
	}
	return false, MarkIdempotencySucceeded(conn, orgId, handlerName, messageId)
}

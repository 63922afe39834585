package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/serviceengine_backend/config"
	"github.com/mmdatafocus/serviceengine_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Publisher delivers one lifecycle message and returns the broker's message id.
type Publisher interface {
	Publish(ctx context.Context, msg config.LifecycleMessage) (string, error)
}

type OutboxDispatcher struct {
	DB           *gorm.DB
	Publisher    Publisher
	Logger       *logrus.Logger
	DispatcherID string
	Now          func() time.Time

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewOutboxDispatcher(db *gorm.DB, publisher Publisher, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Publisher:      publisher,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		Now:            func() time.Time { return time.Now().UTC() },
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     10 * time.Minute,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			config.LogError(d.Logger, "workflow", "OutboxDispatcher.Run", "dispatch batch", d.DispatcherID, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch of due events and publishes them. It returns
// how many were published.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	if d.DB == nil || d.Publisher == nil {
		return 0, nil
	}
	now := d.Now()
	claimed, err := d.claim(ctx, now)
	if err != nil || len(claimed) == 0 {
		return 0, err
	}

	sent := 0
	for _, event := range claimed {
		pubID, pubErr := d.Publisher.Publish(ctx, event.ToMessage())
		if pubErr != nil {
			d.markPublishFailed(ctx, event, pubErr)
			continue
		}
		d.markPublishSent(ctx, event, pubID)
		sent++
	}
	return sent, nil
}

// claim moves due PENDING rows, and PROCESSING rows whose lock went stale, to
// PROCESSING under this dispatcher's id.
func (d *OutboxDispatcher) claim(ctx context.Context, now time.Time) ([]*models.LifecycleEvent, error) {
	staleBefore := now.Add(-d.LockTimeout)
	var claimed []*models.LifecycleEvent
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("(status = ? AND next_attempt_at <= ?) OR (status = ? AND locked_at IS NOT NULL AND locked_at <= ?)",
				models.OutboxStatusPending, now, models.OutboxStatusProcessing, staleBefore).
			Order("next_attempt_at ASC, id ASC").
			Limit(d.BatchSize)
		// SQLite has no row locks; the single writer already serializes claims there
		if tx.Dialector.Name() == "mysql" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var due []*models.LifecycleEvent
		if err := q.Find(&due).Error; err != nil {
			return err
		}
		for _, event := range due {
			// a crash between claim and publish still counts as an attempt
			if d.MaxAttempts > 0 && event.Attempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				if err := tx.Model(&models.LifecycleEvent{}).Where("id = ?", event.ID).Updates(map[string]interface{}{
					"status":     models.OutboxStatusDead,
					"last_error": &msg,
					"locked_at":  nil,
					"locked_by":  nil,
				}).Error; err != nil {
					return err
				}
				continue
			}
			lockedAt := now
			lockedBy := d.DispatcherID
			if err := tx.Model(&models.LifecycleEvent{}).Where("id = ?", event.ID).Updates(map[string]interface{}{
				"status":     models.OutboxStatusProcessing,
				"locked_at":  &lockedAt,
				"locked_by":  &lockedBy,
				"attempts":   gorm.Expr("attempts + 1"),
				"last_error": nil,
			}).Error; err != nil {
				return err
			}
			event.Status = models.OutboxStatusProcessing
			event.LockedAt = &lockedAt
			event.LockedBy = &lockedBy
			event.Attempts++
			claimed = append(claimed, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (d *OutboxDispatcher) markPublishSent(ctx context.Context, event *models.LifecycleEvent, pubsubMsgID string) {
	now := d.Now()
	id := pubsubMsgID
	err := d.DB.WithContext(ctx).Model(&models.LifecycleEvent{}).
		Where("id = ? AND locked_by = ?", event.ID, d.DispatcherID).
		Updates(map[string]interface{}{
			"status":             models.OutboxStatusSent,
			"sent_at":            &now,
			"pub_sub_message_id": &id,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
	if err != nil {
		config.LogError(d.Logger, "workflow", "markPublishSent", "update event", event.ID, err)
	}
}

func (d *OutboxDispatcher) markPublishFailed(ctx context.Context, event *models.LifecycleEvent, err error) {
	db := d.DB.WithContext(ctx)
	msg := err.Error()
	fields := logrus.Fields{
		"field":      "OutboxDispatcher",
		"org_id":     event.OrgId,
		"event_id":   event.ID,
		"event_type": event.EventType,
		"attempt":    event.Attempts,
	}

	if d.MaxAttempts > 0 && event.Attempts >= d.MaxAttempts {
		if updateErr := db.Model(&models.LifecycleEvent{}).
			Where("id = ?", event.ID).
			Updates(map[string]interface{}{
				"status":     models.OutboxStatusDead,
				"last_error": &msg,
				"locked_at":  nil,
				"locked_by":  nil,
			}).Error; updateErr != nil {
			config.LogError(d.Logger, "workflow", "markPublishFailed", "mark dead", event.ID, updateErr)
		}
		if d.Logger != nil {
			d.Logger.WithFields(fields).Error("lifecycle event moved to DEAD after max attempts: " + msg)
		}
		return
	}

	next := d.Now().Add(d.backoff(event.Attempts))
	if updateErr := db.Model(&models.LifecycleEvent{}).
		Where("id = ?", event.ID).
		Updates(map[string]interface{}{
			"status":          models.OutboxStatusPending,
			"last_error":      &msg,
			"next_attempt_at": next,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error; updateErr != nil {
		config.LogError(d.Logger, "workflow", "markPublishFailed", "schedule retry", event.ID, updateErr)
	}
	if d.Logger != nil {
		fields["next_attempt_at"] = next.Format(time.RFC3339Nano)
		d.Logger.WithFields(fields).Warn("lifecycle event publish failed: " + msg)
	}
}

// backoff doubles InitialBackoff per attempt after the first, capped at MaxBackoff.
func (d *OutboxDispatcher) backoff(attempt int) time.Duration {
	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if d.MaxBackoff > 0 && backoff >= d.MaxBackoff {
			return d.MaxBackoff
		}
	}
	return backoff
}

package workflow

import (
	"context"
	"errors"

	"github.com/mmdatafocus/serviceengine_backend/config"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const lifecycleAuditHandler = "lifecycle_audit"

var ErrInvalidLifecycleMessage = errors.New("lifecycle message requires event_id, org_id and event_type")

// PushEnvelope is the body Pub/Sub push subscriptions post.
type PushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data,omitempty"`
		ID         string            `json:"messageId"`
		Attributes map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// LifecycleConsumer handles redelivered lifecycle messages exactly once.
type LifecycleConsumer struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewLifecycleConsumer(db *gorm.DB, logger *logrus.Logger) *LifecycleConsumer {
	return &LifecycleConsumer{DB: db, Logger: logger}
}

// Consume records msg in the audit log. The event id doubles as the
// idempotency message id since Pub/Sub may assign a new one on republish.
func (c *LifecycleConsumer) Consume(ctx context.Context, msg config.LifecycleMessage) (skipped bool, err error) {
	if msg.EventId == "" || msg.OrgId == "" || msg.EventType == "" {
		return false, ErrInvalidLifecycleMessage
	}
	return HandleOnce(ctx, c.DB, msg.OrgId, lifecycleAuditHandler, msg.EventId, func(ctx context.Context) error {
		if c.Logger == nil {
			return nil
		}
		c.Logger.WithFields(logrus.Fields{
			"field":          "LifecycleConsumer",
			"org_id":         msg.OrgId,
			"event_id":       msg.EventId,
			"event_type":     msg.EventType,
			"aggregate_type": msg.AggregateType,
			"aggregate_id":   msg.AggregateId,
			"correlation_id": msg.CorrelationId,
			"occurred_at":    msg.OccurredAt,
		}).Info("lifecycle event")
		return nil
	})
}

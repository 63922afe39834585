package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/serviceengine_backend/config"
	"github.com/mmdatafocus/serviceengine_backend/utils"
)

// LifecycleEvent is an outbox row written in the same transaction as the state
// change it describes. The dispatcher publishes it after commit.
type LifecycleEvent struct {
	ID            string             `gorm:"type:char(36);primaryKey" json:"id"`
	OrgId         string             `gorm:"type:char(36);not null;index" json:"org_id"`
	AggregateType string             `gorm:"size:50;not null" json:"aggregate_type"`
	AggregateId   string             `gorm:"type:char(36);not null;index" json:"aggregate_id"`
	EventType     LifecycleEventType `gorm:"size:50;not null" json:"event_type"`
	Payload       string             `gorm:"type:text;not null" json:"payload"`
	CorrelationId string             `gorm:"size:64;index" json:"correlation_id"`
	// publish metadata
	Status          OutboxStatus `gorm:"size:20;not null;index:idx_lifecycle_dispatch,priority:1" json:"status"`
	Attempts        int          `gorm:"not null" json:"attempts"`
	NextAttemptAt   time.Time    `gorm:"not null;index:idx_lifecycle_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt        *time.Time   `gorm:"index" json:"locked_at"`
	LockedBy        *string      `gorm:"size:100" json:"locked_by"`
	LastError       *string      `gorm:"type:text" json:"last_error"`
	PubSubMessageId *string      `gorm:"size:255" json:"pubsub_message_id"`
	SentAt          *time.Time   `json:"sent_at"`
	CreatedAt       time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// ToMessage converts the row into its wire body.
func (e LifecycleEvent) ToMessage() config.LifecycleMessage {
	return config.LifecycleMessage{
		EventId:       e.ID,
		OrgId:         e.OrgId,
		AggregateType: e.AggregateType,
		AggregateId:   e.AggregateId,
		EventType:     string(e.EventType),
		OccurredAt:    e.CreatedAt,
		Payload:       json.RawMessage(e.Payload),
		CorrelationId: e.CorrelationId,
	}
}

// appendEvent writes an outbox row on the store's current handle.
func (s *Store) appendEvent(ctx context.Context, orgId string, aggregateType string, aggregateId string, eventType LifecycleEventType, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	now := s.Now()
	event := LifecycleEvent{
		ID:            uuid.NewString(),
		OrgId:         orgId,
		AggregateType: aggregateType,
		AggregateId:   aggregateId,
		EventType:     eventType,
		Payload:       string(body),
		CorrelationId: correlationId,
		Status:        OutboxStatusPending,
		NextAttemptAt: now,
	}
	return s.db.WithContext(ctx).Create(&event).Error
}

// EventsFor lists outbox rows for one aggregate, oldest first.
func (s *Store) EventsFor(ctx context.Context, aggregateId string) ([]*LifecycleEvent, error) {
	var events []*LifecycleEvent
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateId).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}

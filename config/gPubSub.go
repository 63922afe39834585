package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// LifecycleMessage is the wire body published for every outbox row.
type LifecycleMessage struct {
	EventId       string          `json:"event_id"`
	OrgId         string          `json:"org_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateId   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationId string          `json:"correlation_id,omitempty"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

// GetPubSubClient returns the shared Pub/Sub client, dialing it with capped
// backoff on first use. PUBSUB_CREDENTIALS_JSON overrides default credentials.
func GetPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	for attempt := 1; ; attempt++ {
		c, err := dialPubSub(ctx, projectID)
		if err == nil {
			pubsubClient = c
			logg.WithFields(logrus.Fields{"project_id": projectID, "attempt": attempt}).Info("pubsub client ready")
			return c, nil
		}
		wait := min(time.Second<<min(attempt, 5), 30*time.Second)
		LogWarn(logg, "config", "GetPubSubClient", "dial pubsub", projectID, fmt.Sprintf("attempt %d: %v; retrying in %s", attempt, err, wait))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func dialPubSub(ctx context.Context, projectID string) (*pubsub.Client, error) {
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		return pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return pubsub.NewClient(ctx, projectID)
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return ""
}

func LifecycleTopic() string {
	return stringFromEnv("PUBSUB_TOPIC", "lifecycle-events")
}

func CreateTopicIfNotExists(ctx context.Context, c *pubsub.Client, topic string) (*pubsub.Topic, error) {
	if c == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	t := c.Topic(topic)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return t, nil
	}
	t, err = c.CreateTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("create topic %q: %w", topic, err)
	}
	return t, nil
}

// PublishLifecycleMessage publishes and returns the Pub/Sub server-assigned message ID.
func PublishLifecycleMessage(ctx context.Context, topic *pubsub.Topic, msg LifecycleMessage) (string, error) {
	if topic == nil {
		return "", errors.New("topic is required")
	}
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	result := topic.Publish(ctx, &pubsub.Message{
		Data: msgJSON,
		Attributes: map[string]string{
			"event_type": msg.EventType,
			"org_id":     msg.OrgId,
		},
	})
	return result.Get(ctx)
}

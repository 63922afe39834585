package workflow

import (
	"context"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/serviceengine_backend/config"
)

// PubSubPublisher publishes lifecycle messages to one Google Pub/Sub topic.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubPublisher connects to Pub/Sub and makes sure the lifecycle topic exists.
func NewPubSubPublisher(ctx context.Context) (*PubSubPublisher, error) {
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		return nil, err
	}
	topic, err := config.CreateTopicIfNotExists(ctx, client, config.LifecycleTopic())
	if err != nil {
		return nil, err
	}
	return &PubSubPublisher{topic: topic}, nil
}

func (p *PubSubPublisher) Publish(ctx context.Context, msg config.LifecycleMessage) (string, error) {
	return config.PublishLifecycleMessage(ctx, p.topic, msg)
}

// Stop flushes pending publishes.
func (p *PubSubPublisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}

package client

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// OrderingAttribute names the message attribute used as the ordering key, so
// one learner's progress events arrive in order.
const OrderingAttribute = "user_id"

// PubSubClient publishes lesson progress events to a Pub/Sub topic.
type PubSubClient struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubClient creates a new Pub/Sub client.
func NewPubSubClient(ctx context.Context, projectID, topicID string) (*PubSubClient, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}

	topic := client.Topic(topicID)
	topic.EnableMessageOrdering = true

	return &PubSubClient{
		client: client,
		topic:  topic,
	}, nil
}

// Close flushes pending messages and closes the client.
func (c *PubSubClient) Close() {
	if c.topic != nil {
		c.topic.Stop()
	}
	if c.client != nil {
		c.client.Close()
	}
}

// PublishWithAttributes publishes a JSON message with attributes and waits
// for the server ack. Messages carrying OrderingAttribute are ordered per
// value; a failed publish resumes that key so later events are not stuck.
func (c *PubSubClient) PublishWithAttributes(ctx context.Context, data interface{}, attrs map[string]string) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	key := attrs[OrderingAttribute]
	result := c.topic.Publish(ctx, &pubsub.Message{
		Data:        payload,
		Attributes:  attrs,
		OrderingKey: key,
	})

	if _, err := result.Get(ctx); err != nil {
		if key != "" {
			c.topic.ResumePublish(key)
		}
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

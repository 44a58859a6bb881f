package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/arklim/credential-engine/internal/core/port"
)

// CodeDelivery hands secrets to the notification service over a dedicated topic.
type CodeDelivery struct {
	producer *Producer
	topic    string
}

// NewCodeDelivery publishes to topic, prefixed like every other topic.
func NewCodeDelivery(producer *Producer, topic string) *CodeDelivery {
	if topic == "" {
		topic = "notification.delivery"
	}
	return &CodeDelivery{producer: producer, topic: producer.TopicName(topic)}
}

type deliveryRecord struct {
	AccountID   string    `json:"account_id"`
	Channel     string    `json:"channel"`
	Destination string    `json:"destination"`
	Purpose     string    `json:"purpose"`
	Secret      string    `json:"secret"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Deliver enqueues the message keyed by account.
func (d *CodeDelivery) Deliver(ctx context.Context, message port.DeliveryMessage) error {
	body, err := json.Marshal(deliveryRecord{
		AccountID:   message.AccountID,
		Channel:     message.Channel,
		Destination: message.Destination,
		Purpose:     message.Purpose,
		Secret:      message.Secret,
		ExpiresAt:   message.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal delivery message: %w", err)
	}
	return d.producer.Send(ctx, d.topic, message.AccountID, body,
		sarama.RecordHeader{Key: []byte("purpose"), Value: []byte(message.Purpose)},
	)
}

var _ port.CodeDelivery = (*CodeDelivery)(nil)

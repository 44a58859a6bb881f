package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
	"github.com/arklim/credential-engine/internal/infra/logger"
)

// StubPublisher logs events and deliveries instead of sending them to Kafka.
// Useful for development environments and the in-memory storage driver.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

// Dispatch logs each event with its attributes.
func (p *StubPublisher) Dispatch(_ context.Context, events []domain.Event) error {
	for _, event := range events {
		if _, err := topicFor(event.Type); err != nil {
			return err
		}
		p.logger.Info("Stub event published",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID),
			zap.String("account_id", event.AccountID),
			zap.Int64("version", event.Version),
			zap.Time("timestamp", event.OccurredAt),
			zap.Any("payload", event.Attributes),
		)
	}
	return nil
}

// Deliver logs the delivery with the secret masked.
func (p *StubPublisher) Deliver(_ context.Context, message port.DeliveryMessage) error {
	destination := logger.MaskString(message.Destination)
	if message.Channel == "email" {
		destination = logger.MaskEmail(message.Destination)
	} else if message.Channel == "sms" {
		destination = logger.MaskPhone(message.Destination)
	}

	p.logger.Info("Stub delivery sent",
		zap.String("account_id", message.AccountID),
		zap.String("channel", message.Channel),
		zap.String("destination", destination),
		zap.String("purpose", message.Purpose),
		zap.String("secret", logger.MaskString(message.Secret)),
		zap.Time("expires_at", message.ExpiresAt),
	)
	return nil
}

var (
	_ port.DomainEventDispatcher = (*StubPublisher)(nil)
	_ port.CodeDelivery          = (*StubPublisher)(nil)
)

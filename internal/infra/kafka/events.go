package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
	"github.com/arklim/credential-engine/internal/infra/config"
)

const schemaVersion = "1.0"

// Topics partition account events by audience.
const (
	TopicAccountLifecycle   = "account.lifecycle"
	TopicAccountSecurity    = "account.security"
	TopicAccountCredentials = "account.credentials"
)

// EventDispatcher publishes committed account events to Kafka keyed by account id,
// so every event of one account lands on the same partition in order.
type EventDispatcher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventDispatcher constructs a Kafka-backed domain event dispatcher.
func NewEventDispatcher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventDispatcher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID          string            `json:"event_id"`
	EventType        string            `json:"event_type"`
	AccountID        string            `json:"account_id"`
	Timestamp        time.Time         `json:"timestamp"`
	AggregateVersion int64             `json:"aggregate_version"`
	Version          string            `json:"version"`
	Payload          map[string]string `json:"payload,omitempty"`
	Metadata         envelopeMetadata  `json:"metadata,omitempty"`
}

// topicFor routes every event type. Unknown types are rejected rather than guessed.
func topicFor(t domain.EventType) (string, error) {
	switch t {
	case domain.EventAccountRegistered,
		domain.EventEmailVerified,
		domain.EventPhoneVerified,
		domain.EventAccountSuspended,
		domain.EventAccountBlocked,
		domain.EventAccountReactivated,
		domain.EventAccountDeleted,
		domain.EventAccountMerged:
		return TopicAccountLifecycle, nil
	case domain.EventLoggedIn,
		domain.EventLoginFailed,
		domain.EventAccountLocked,
		domain.EventAccountUnlocked,
		domain.EventTwoFactorUsed:
		return TopicAccountSecurity, nil
	case domain.EventPasswordChanged,
		domain.EventPasswordChangeRequired,
		domain.EventPasswordResetRequested,
		domain.EventPasswordResetCompleted,
		domain.EventEmailVerificationIssued,
		domain.EventTwoFactorEnrollmentStarted,
		domain.EventTwoFactorEnabled,
		domain.EventTwoFactorDisabled:
		return TopicAccountCredentials, nil
	}
	return "", fmt.Errorf("no topic for event type %q", t)
}

// Dispatch publishes events in order. A failing event does not stop the rest.
func (d *EventDispatcher) Dispatch(ctx context.Context, events []domain.Event) error {
	var errs []error
	for _, event := range events {
		if err := d.publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("publish %s %s: %w", event.Type, event.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (d *EventDispatcher) publish(ctx context.Context, event domain.Event) error {
	topic, err := topicFor(event.Type)
	if err != nil {
		return err
	}

	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}

	envelope := eventEnvelope{
		EventID:          event.ID,
		EventType:        string(event.Type),
		AccountID:        event.AccountID,
		Timestamp:        ts.UTC(),
		AggregateVersion: event.Version,
		Version:          schemaVersion,
		Payload:          event.Attributes,
		Metadata:         d.metadata(ctx),
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	return d.producer.Send(ctx, d.producer.TopicName(topic), event.AccountID, body,
		sarama.RecordHeader{Key: []byte("event_type"), Value: []byte(event.Type)},
	)
}

func (d *EventDispatcher) metadata(ctx context.Context) envelopeMetadata {
	metadata := envelopeMetadata{
		"service":     d.appCfg.Name,
		"environment": d.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}
	return metadata
}

var _ port.DomainEventDispatcher = (*EventDispatcher)(nil)

package port

import (
	"context"
	"time"

	"github.com/arklim/credential-engine/internal/core/domain"
)

// VerificationCodeStore keeps at most one outstanding code per purpose and subject.
type VerificationCodeStore interface {
	Save(ctx context.Context, subject string, code *domain.VerificationCode) error
	// Redeem verifies candidate against the stored code and persists the attempt atomically.
	Redeem(ctx context.Context, subject string, codeType domain.CodeType, candidate string, at time.Time) error
	Delete(ctx context.Context, subject string, codeType domain.CodeType) error
}

// CodeDelivery hands a secret to the outbound email/SMS channel.
type CodeDelivery interface {
	Deliver(ctx context.Context, message DeliveryMessage) error
}

// DeliveryMessage is the payload sent to the notification channel.
type DeliveryMessage struct {
	AccountID   string
	Channel     string
	Destination string
	Purpose     string
	Secret      string
	ExpiresAt   time.Time
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
)

const (
	defaultCodePrefix = "code"
	maxRedeemRetries  = 5

	fieldValue       = "value"
	fieldCreatedAt   = "created_at"
	fieldExpiresAt   = "expires_at"
	fieldAttempts    = "attempts"
	fieldMaxAttempts = "max_attempts"
	fieldUsedAt      = "used_at"
)

// ErrRedeemContention is returned when optimistic retries are exhausted.
var ErrRedeemContention = errors.New("verification code is under contention")

// CodeRepository keeps verification codes in Redis hashes that expire with the code.
// Redemption runs under WATCH so concurrent guesses each consume an attempt
// and at most one succeeds.
type CodeRepository struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

// NewCodeRepository constructs a repository with the provided Redis client and key prefix.
func NewCodeRepository(client *red.Client, keyPrefix string) *CodeRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultCodePrefix
	}

	return &CodeRepository{client: client, prefix: prefix, now: time.Now}
}

// WithClock overrides the clock used to compute key TTLs, used in tests.
func (r *CodeRepository) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

// Save replaces any outstanding code of the same type for subject.
func (r *CodeRepository) Save(ctx context.Context, subject string, code *domain.VerificationCode) error {
	if code == nil {
		return errors.New("code is required")
	}
	key := r.key(code.Type(), subject)
	if key == "" {
		return errors.New("subject is required")
	}

	ttl := code.ExpiresAt().Sub(r.now())
	if ttl <= 0 {
		return errors.New("code is already expired")
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, encodeCode(code.State()))
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store code: %w", err)
	}
	return nil
}

// Redeem checks candidate and records the attempt atomically.
func (r *CodeRepository) Redeem(ctx context.Context, subject string, codeType domain.CodeType, candidate string, at time.Time) error {
	key := r.key(codeType, subject)
	if key == "" {
		return errors.New("subject is required")
	}

	for i := 0; i < maxRedeemRetries; i++ {
		var outcome error
		err := r.client.Watch(ctx, func(tx *red.Tx) error {
			values, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return fmt.Errorf("redis hgetall code: %w", err)
			}
			if len(values) == 0 {
				outcome = domain.ErrNoPendingCode.WithDetail("type", string(codeType))
				return nil
			}

			state, err := decodeCode(codeType, values)
			if err != nil {
				return err
			}
			code := domain.RestoreVerificationCode(state)
			outcome = code.Redeem(candidate, at)

			next := code.State()
			if next.Attempts == state.Attempts && next.Used == state.Used {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe red.Pipeliner) error {
				pipe.HSet(ctx, key, encodeCode(next))
				return nil
			})
			return err
		}, key)

		if errors.Is(err, red.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		return outcome
	}
	return ErrRedeemContention
}

// Delete discards the outstanding code.
func (r *CodeRepository) Delete(ctx context.Context, subject string, codeType domain.CodeType) error {
	key := r.key(codeType, subject)
	if key == "" {
		return errors.New("subject is required")
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete code: %w", err)
	}
	return nil
}

func (r *CodeRepository) key(codeType domain.CodeType, subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" || codeType == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", r.prefix, codeType, subject)
}

func encodeCode(s domain.VerificationCodeState) map[string]any {
	values := map[string]any{
		fieldValue:       s.Value,
		fieldCreatedAt:   strconv.FormatInt(s.CreatedAt.UnixNano(), 10),
		fieldExpiresAt:   strconv.FormatInt(s.ExpiresAt.UnixNano(), 10),
		fieldAttempts:    strconv.Itoa(s.Attempts),
		fieldMaxAttempts: strconv.Itoa(s.MaxAttempts),
		fieldUsedAt:      "",
	}
	if s.Used && s.UsedAt != nil {
		values[fieldUsedAt] = strconv.FormatInt(s.UsedAt.UnixNano(), 10)
	}
	return values
}

func decodeCode(codeType domain.CodeType, values map[string]string) (domain.VerificationCodeState, error) {
	state := domain.VerificationCodeState{Value: values[fieldValue], Type: codeType}
	if state.Value == "" {
		return state, errors.New("stored code has no value")
	}

	var err error
	if state.CreatedAt, err = parseUnixNano(values[fieldCreatedAt]); err != nil {
		return state, fmt.Errorf("parse created_at: %w", err)
	}
	if state.ExpiresAt, err = parseUnixNano(values[fieldExpiresAt]); err != nil {
		return state, fmt.Errorf("parse expires_at: %w", err)
	}
	if state.Attempts, err = strconv.Atoi(values[fieldAttempts]); err != nil {
		return state, fmt.Errorf("parse attempts: %w", err)
	}
	if state.MaxAttempts, err = strconv.Atoi(values[fieldMaxAttempts]); err != nil {
		return state, fmt.Errorf("parse max_attempts: %w", err)
	}
	if raw := values[fieldUsedAt]; raw != "" {
		usedAt, err := parseUnixNano(raw)
		if err != nil {
			return state, fmt.Errorf("parse used_at: %w", err)
		}
		state.Used = true
		state.UsedAt = &usedAt
	}
	return state, nil
}

func parseUnixNano(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, v).UTC(), nil
}

var _ port.VerificationCodeStore = (*CodeRepository)(nil)

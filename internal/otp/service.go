package otp

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/paymentvault/wallet-service/internal/domain"
	"github.com/paymentvault/wallet-service/internal/models"
	"github.com/paymentvault/wallet-service/internal/notifier"
	"github.com/paymentvault/wallet-service/internal/observability"
)

var (
	ErrRequestNotFound     = errors.New("otp challenge not found")
	ErrInvalidOTP          = errors.New("invalid otp code")
	ErrOTPExpired          = errors.New("otp challenge expired")
	ErrMaxAttemptsExceeded = errors.New("otp max attempts exceeded")
	ErrChallengeUsed       = errors.New("otp challenge already used")
	ErrChallengeMismatch   = errors.New("otp challenge does not authorize this request")
)

const redisKeyPrefix = "otp"

// retentionGrace keeps expired challenges readable so a late validate
// answers ErrOTPExpired instead of ErrRequestNotFound.
const retentionGrace = 24 * time.Hour

// Service issues and validates one-time codes that gate sensitive
// settlement kinds. Challenges live in redis under their opaque
// reference.
type Service struct {
	redis    redis.Cmdable
	notifier notifier.Notifier

	expiry      time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewService(rdb redis.Cmdable, n notifier.Notifier) *Service {
	return &Service{
		redis:       rdb,
		notifier:    n,
		expiry:      domain.OTPExpiry,
		maxAttempts: domain.OTPMaxAttempts,
		now:         time.Now,
	}
}

// IssueInput binds a challenge to the user, partner, and amount it will
// later authorize.
type IssueInput struct {
	UserID      uuid.UUID
	PartnerID   uuid.UUID
	Purpose     string
	AmountCents int64
}

// Issue creates a pending challenge and dispatches the code. A failed
// dispatch is logged and does not invalidate the challenge.
func (s *Service) Issue(ctx context.Context, input IssueInput) (*models.OTPChallenge, error) {
	if input.UserID == uuid.Nil || input.PartnerID == uuid.Nil {
		return nil, errors.New("user_id and partner_id are required")
	}
	if input.AmountCents <= 0 {
		return nil, fmt.Errorf("invalid amount: %d", input.AmountCents)
	}

	code, err := generateCode(domain.OTPCodeLength)
	if err != nil {
		return nil, fmt.Errorf("generate otp code: %w", err)
	}

	now := s.now()
	challenge := models.OTPChallenge{
		Reference:   uuid.NewString(),
		UserID:      input.UserID,
		PartnerID:   input.PartnerID,
		Purpose:     input.Purpose,
		AmountCents: input.AmountCents,
		Code:        code,
		Status:      domain.OTPStatusPending,
		MaxAttempts: s.maxAttempts,
		ExpiresAt:   now.Add(s.expiry),
		CreatedAt:   now,
	}

	if err := s.save(ctx, challenge); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		msg := notifier.Message{
			Recipient: input.UserID.String(),
			Subject:   "Your verification code",
			Body:      fmt.Sprintf("Your code is %s. It expires in %d minutes.", code, int(s.expiry.Minutes())),
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			zap.L().Warn("otp dispatch failed",
				zap.Error(err),
				zap.String("reference", challenge.Reference),
			)
		}
	}

	return &challenge, nil
}

// Validate checks a submitted code against its challenge. A challenge
// validates successfully at most once; expiry and the attempt cap are
// checked before the code itself.
func (s *Service) Validate(ctx context.Context, reference, code string) error {
	challenge, err := s.load(ctx, reference)
	if err != nil {
		observability.IncrementOTPValidation("not_found")
		return err
	}

	switch challenge.Status {
	case domain.OTPStatusPending:
	case domain.OTPStatusExpired:
		observability.IncrementOTPValidation("expired")
		return ErrOTPExpired
	case domain.OTPStatusFailed:
		observability.IncrementOTPValidation("attempts_exceeded")
		return ErrMaxAttemptsExceeded
	default:
		// validated or consumed: single use.
		observability.IncrementOTPValidation("already_used")
		return ErrChallengeUsed
	}

	if s.now().After(challenge.ExpiresAt) {
		challenge.Status = domain.OTPStatusExpired
		if err := s.save(ctx, *challenge); err != nil {
			return err
		}
		observability.IncrementOTPValidation("expired")
		return ErrOTPExpired
	}

	if challenge.Attempts >= challenge.MaxAttempts {
		challenge.Status = domain.OTPStatusFailed
		if err := s.save(ctx, *challenge); err != nil {
			return err
		}
		observability.IncrementOTPValidation("attempts_exceeded")
		return ErrMaxAttemptsExceeded
	}

	if code != challenge.Code {
		challenge.Attempts++
		if challenge.Attempts >= challenge.MaxAttempts {
			challenge.Status = domain.OTPStatusFailed
		}
		if err := s.save(ctx, *challenge); err != nil {
			return err
		}
		observability.IncrementOTPValidation("mismatch")
		return ErrInvalidOTP
	}

	challenge.Status = domain.OTPStatusValidated
	if err := s.save(ctx, *challenge); err != nil {
		return err
	}
	observability.IncrementOTPValidation("validated")
	return nil
}

// Consume marks a validated challenge as used by a settlement request.
// The challenge must be bound to the same partner and amount, and can
// authorize exactly one request.
func (s *Service) Consume(ctx context.Context, reference string, partnerID uuid.UUID, amountCents int64) error {
	challenge, err := s.load(ctx, reference)
	if err != nil {
		return err
	}
	if challenge.Status != domain.OTPStatusValidated {
		if challenge.Status == domain.OTPStatusConsumed {
			return ErrChallengeUsed
		}
		return ErrChallengeMismatch
	}
	if challenge.PartnerID != partnerID || challenge.AmountCents != amountCents {
		return ErrChallengeMismatch
	}

	challenge.Status = domain.OTPStatusConsumed
	return s.save(ctx, *challenge)
}

// Get returns a challenge by reference.
func (s *Service) Get(ctx context.Context, reference string) (*models.OTPChallenge, error) {
	return s.load(ctx, reference)
}

type envelope struct {
	models.OTPChallenge
	Code string `json:"code"`
}

func (s *Service) save(ctx context.Context, challenge models.OTPChallenge) error {
	payload, err := json.Marshal(envelope{OTPChallenge: challenge, Code: challenge.Code})
	if err != nil {
		return fmt.Errorf("encode otp challenge: %w", err)
	}
	ttl := challenge.ExpiresAt.Sub(s.now()) + retentionGrace
	if err := s.redis.Set(ctx, redisKey(challenge.Reference), payload, ttl).Err(); err != nil {
		return fmt.Errorf("store otp challenge: %w", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, reference string) (*models.OTPChallenge, error) {
	val, err := s.redis.Get(ctx, redisKey(reference)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("load otp challenge: %w", err)
	}
	var env envelope
	if err := json.Unmarshal([]byte(val), &env); err != nil {
		return nil, fmt.Errorf("decode otp challenge: %w", err)
	}
	challenge := env.OTPChallenge
	challenge.Code = env.Code
	return &challenge, nil
}

func redisKey(reference string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, reference)
}

func generateCode(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}

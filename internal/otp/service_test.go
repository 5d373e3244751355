package otp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/paymentvault/wallet-service/internal/domain"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewService(rdb, nil)
}

func issueChallenge(t *testing.T, svc *Service) (reference, code string) {
	t.Helper()
	challenge, err := svc.Issue(context.Background(), IssueInput{
		UserID:      uuid.New(),
		PartnerID:   uuid.New(),
		Purpose:     "float_purchase",
		AmountCents: 500_000,
	})
	require.NoError(t, err)
	return challenge.Reference, challenge.Code
}

func wrongCode(code string) string {
	if code == "000000" {
		return "000001"
	}
	return "000000"
}

func TestIssue(t *testing.T) {
	svc := newTestService(t)

	challenge, err := svc.Issue(context.Background(), IssueInput{
		UserID:      uuid.New(),
		PartnerID:   uuid.New(),
		Purpose:     "float_purchase",
		AmountCents: 500_000,
	})
	require.NoError(t, err)
	require.Len(t, challenge.Code, domain.OTPCodeLength)
	require.Equal(t, domain.OTPStatusPending, challenge.Status)
	require.Equal(t, domain.OTPMaxAttempts, challenge.MaxAttempts)
	require.WithinDuration(t, time.Now().Add(domain.OTPExpiry), challenge.ExpiresAt, time.Minute)
}

func TestValidate_Success(t *testing.T) {
	svc := newTestService(t)
	reference, code := issueChallenge(t, svc)

	require.NoError(t, svc.Validate(context.Background(), reference, code))

	challenge, err := svc.Get(context.Background(), reference)
	require.NoError(t, err)
	require.Equal(t, domain.OTPStatusValidated, challenge.Status)
}

func TestValidate_UnknownReference(t *testing.T) {
	svc := newTestService(t)
	err := svc.Validate(context.Background(), "no-such-reference", "123456")
	require.ErrorIs(t, err, ErrRequestNotFound)
}

func TestValidate_SingleUse(t *testing.T) {
	svc := newTestService(t)
	reference, code := issueChallenge(t, svc)

	require.NoError(t, svc.Validate(context.Background(), reference, code))
	err := svc.Validate(context.Background(), reference, code)
	require.ErrorIs(t, err, ErrChallengeUsed)
}

func TestValidate_ExpiredRejectsCorrectCode(t *testing.T) {
	svc := newTestService(t)
	reference, code := issueChallenge(t, svc)

	svc.now = func() time.Time { return time.Now().Add(domain.OTPExpiry + time.Minute) }

	err := svc.Validate(context.Background(), reference, code)
	require.ErrorIs(t, err, ErrOTPExpired)

	// Still expired on a second try.
	err = svc.Validate(context.Background(), reference, code)
	require.ErrorIs(t, err, ErrOTPExpired)
}

func TestValidate_AttemptsExhausted(t *testing.T) {
	svc := newTestService(t)
	reference, code := issueChallenge(t, svc)
	bad := wrongCode(code)

	for i := 0; i < domain.OTPMaxAttempts; i++ {
		err := svc.Validate(context.Background(), reference, bad)
		require.ErrorIs(t, err, ErrInvalidOTP)
	}

	// Correct code no longer helps.
	err := svc.Validate(context.Background(), reference, code)
	require.ErrorIs(t, err, ErrMaxAttemptsExceeded)

	challenge, err2 := svc.Get(context.Background(), reference)
	require.NoError(t, err2)
	require.Equal(t, domain.OTPStatusFailed, challenge.Status)
	require.Equal(t, domain.OTPMaxAttempts, challenge.Attempts)
}

func TestValidate_MismatchIncrementsAttempts(t *testing.T) {
	svc := newTestService(t)
	reference, code := issueChallenge(t, svc)

	err := svc.Validate(context.Background(), reference, wrongCode(code))
	require.ErrorIs(t, err, ErrInvalidOTP)

	challenge, err2 := svc.Get(context.Background(), reference)
	require.NoError(t, err2)
	require.Equal(t, 1, challenge.Attempts)
	require.Equal(t, domain.OTPStatusPending, challenge.Status)

	// Correct code still works before the cap.
	require.NoError(t, svc.Validate(context.Background(), reference, code))
}

func TestConsume(t *testing.T) {
	svc := newTestService(t)
	partnerID := uuid.New()

	challenge, err := svc.Issue(context.Background(), IssueInput{
		UserID:      uuid.New(),
		PartnerID:   partnerID,
		Purpose:     "float_purchase",
		AmountCents: 500_000,
	})
	require.NoError(t, err)

	// Cannot consume before validation.
	err = svc.Consume(context.Background(), challenge.Reference, partnerID, 500_000)
	require.ErrorIs(t, err, ErrChallengeMismatch)

	require.NoError(t, svc.Validate(context.Background(), challenge.Reference, challenge.Code))

	// Wrong binding is rejected.
	err = svc.Consume(context.Background(), challenge.Reference, partnerID, 999_999)
	require.ErrorIs(t, err, ErrChallengeMismatch)
	err = svc.Consume(context.Background(), challenge.Reference, uuid.New(), 500_000)
	require.ErrorIs(t, err, ErrChallengeMismatch)

	require.NoError(t, svc.Consume(context.Background(), challenge.Reference, partnerID, 500_000))

	// Exactly once.
	err = svc.Consume(context.Background(), challenge.Reference, partnerID, 500_000)
	require.ErrorIs(t, err, ErrChallengeUsed)
}

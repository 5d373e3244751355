package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/paymentvault/wallet-service/internal/domain"
	"github.com/paymentvault/wallet-service/internal/models"
	"github.com/paymentvault/wallet-service/internal/provider"
	"github.com/paymentvault/wallet-service/internal/wallet"
)

type stubProvider struct {
	mu         sync.Mutex
	errs       []error // consumed per dispatch; nil means success
	dispatched []provider.DispatchInput
	nextRef    int
}

func (p *stubProvider) Dispatch(_ context.Context, input provider.DispatchInput) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dispatched = append(p.dispatched, input)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return "", err
		}
	}
	p.nextRef++
	return correlationRef(p.nextRef), nil
}

func correlationRef(n int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(n)}).String()
}

func (p *stubProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dispatched)
}

type stubOTP struct {
	consumed []string
	err      error
}

func (o *stubOTP) Consume(_ context.Context, reference string, _ uuid.UUID, _ int64) error {
	if o.err != nil {
		return o.err
	}
	o.consumed = append(o.consumed, reference)
	return nil
}

type trackerFixture struct {
	tracker *Tracker
	ledger  *wallet.Ledger
	prov    *stubProvider
	otp     *stubOTP
}

func newFixture() *trackerFixture {
	prov := &stubProvider{}
	otpStub := &stubOTP{}
	ledger := wallet.NewLedger(wallet.NewMemoryStore(), nil)
	tracker := NewTracker(NewMemoryStore(), ledger, otpStub, prov)
	return &trackerFixture{tracker: tracker, ledger: ledger, prov: prov, otp: otpStub}
}

func (f *trackerFixture) seedWallet(t *testing.T, partnerID uuid.UUID, cents int64) {
	t.Helper()
	_, err := f.ledger.Apply(context.Background(), wallet.ApplyInput{
		PartnerID:   partnerID,
		AmountCents: cents,
		Type:        domain.TxTypeTopUp,
		Reference:   "seed",
	})
	require.NoError(t, err)
}

// dispatchOne pushes a pending request through claim and dispatch.
func (f *trackerFixture) dispatchOne(t *testing.T) *models.SettlementRequest {
	t.Helper()
	n, err := f.tracker.DispatchDue(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	last := f.prov.dispatched[len(f.prov.dispatched)-1]
	req, err := f.tracker.Get(context.Background(), last.RequestID)
	require.NoError(t, err)
	return req
}

func TestRequestSettlement(t *testing.T) {
	f := newFixture()
	partnerID := uuid.New()

	req, err := f.tracker.RequestSettlement(context.Background(), RequestInput{
		PartnerID:   partnerID,
		Kind:        domain.SettlementKindDisbursement,
		AmountCents: 100_000,
		Target:      "254700000001",
	})
	require.NoError(t, err)
	require.Equal(t, domain.SettlementStatusPending, req.Status)
	require.Equal(t, domain.DefaultMaxRetries, req.MaxRetries)
	require.Zero(t, req.RetryCount)
	require.Empty(t, f.otp.consumed)
}

func TestRequestSettlement_SensitiveKindRequiresOTP(t *testing.T) {
	f := newFixture()

	_, err := f.tracker.RequestSettlement(context.Background(), RequestInput{
		PartnerID:   uuid.New(),
		Kind:        domain.SettlementKindFloatPurchase,
		AmountCents: 100_000,
		Target:      "600000",
	})
	require.ErrorIs(t, err, ErrOTPRequired)

	req, err := f.tracker.RequestSettlement(context.Background(), RequestInput{
		PartnerID:    uuid.New(),
		Kind:         domain.SettlementKindFloatPurchase,
		AmountCents:  100_000,
		Target:       "600000",
		OTPReference: "challenge-1",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"challenge-1"}, f.otp.consumed)
	require.Equal(t, "challenge-1", req.OTPReference)
}

func TestDispatchDue_ClaimPreventsDoubleDispatch(t *testing.T) {
	f := newFixture()
	partnerID := uuid.New()

	_, err := f.tracker.RequestSettlement(context.Background(), RequestInput{
		PartnerID:   partnerID,
		Kind:        domain.SettlementKindTopUp,
		AmountCents: 50_000,
		Target:      "254700000001",
	})
	require.NoError(t, err)

	req := f.dispatchOne(t)
	require.NotEmpty(t, req.CorrelationID)
	require.NotNil(t, req.DispatchedAt)
	require.Equal(t, domain.SettlementStatusPending, req.Status)

	// A second cycle finds nothing to dispatch.
	n, err := f.tracker.DispatchDue(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, 1, f.prov.count())
}

func TestHandleResult_SuccessAppliesLedgerOnce(t *testing.T) {
	f := newFixture()
	partnerID := uuid.New()
	f.seedWallet(t, partnerID, 500_000)

	_, err := f.tracker.RequestSettlement(context.Background(), RequestInput{
		PartnerID:   partnerID,
		Kind:        domain.SettlementKindDisbursement,
		AmountCents: 100_000,
		Target:      "254700000001",
	})
	require.NoError(t, err)
	req := f.dispatchOne(t)

	utility := int64(4_000_000)
	outcome := Outcome{
		CorrelationID:       req.CorrelationID,
		Success:             true,
		ResultCode:          "0",
		ResultDescription:   "Accepted",
		UtilityBalanceCents: &utility,
	}
	settled, err := f.tracker.HandleResult(context.Background(), outcome)
	require.NoError(t, err)
	require.Equal(t, domain.SettlementStatusSuccess, settled.Status)
	require.NotNil(t, settled.UtilityBalanceCents)

	account, err := f.ledger.Balance(context.Background(), partnerID)
	require.NoError(t, err)
	require.Equal(t, int64(400_000), account.BalanceCents)

	// Replayed callback: acknowledged, no second mutation.
	again, err := f.tracker.HandleResult(context.Background(), outcome)
	require.NoError(t, err)
	require.Equal(t, domain.SettlementStatusSuccess, again.Status)

	account, err = f.ledger.Balance(context.Background(), partnerID)
	require.NoError(t, err)
	require.Equal(t, int64(400_000), account.BalanceCents)

	txs, err := f.ledger.Transactions(context.Background(), partnerID, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2) // seed + disbursement
}

func TestHandleResult_TopUpCreditsWallet(t *testing.T) {
	f := newFixture()
	partnerID := uuid.New()

	_, err := f.tracker.RequestSettlement(context.Background(), RequestInput{
		PartnerID:   partnerID,
		Kind:        domain.SettlementKindTopUp,
		AmountCents: 250_000,
		Target:      "254700000001",
	})
	require.NoError(t, err)
	req := f.dispatchOne(t)

	_, err = f.tracker.HandleResult(context.Background(), Outcome{
		CorrelationID: req.CorrelationID,
		Success:       true,
		ResultCode:    "0",
	})
	require.NoError(t, err)

	account, err := f.ledger.Balance(context.Background(), partnerID)
	require.NoError(t, err)
	require.Equal(t, int64(250_000), account.BalanceCents)
}

func TestHandleResult_UnknownCorrelation(t *testing.T) {
	f := newFixture()
	_, err := f.tracker.HandleResult(context.Background(), Outcome{CorrelationID: "nope"})
	require.ErrorIs(t, err, ErrRequestNotFound)
}

func TestHandleResult_FailureSchedulesRetry(t *testing.T) {
	f := newFixture()
	partnerID := uuid.New()
	f.seedWallet(t, partnerID, 500_000)

	_, err := f.tracker.RequestSettlement(context.Background(), RequestInput{
		PartnerID:   partnerID,
		Kind:        domain.SettlementKindDisbursement,
		AmountCents: 100_000,
		Target:      "254700000001",
	})
	require.NoError(t, err)
	req := f.dispatchOne(t)

	failed, err := f.tracker.HandleResult(context.Background(), Outcome{
		CorrelationID:     req.CorrelationID,
		Success:           false,
		ResultCode:        "1",
		ResultDescription: "InsufficientFunds at provider",
	})
	require.NoError(t, err)
	require.Equal(t, domain.SettlementStatusFailed, failed.Status)
	require.Equal(t, 1, failed.RetryCount)
	require.NotNil(t, failed.NextRetryAt)

	// No ledger mutation on failure.
	account, err := f.ledger.Balance(context.Background(), partnerID)
	require.NoError(t, err)
	require.Equal(t, int64(500_000), account.BalanceCents)
}

func TestRetryLifecycle_ExhaustsAfterMaxFailures(t *testing.T) {
	f := newFixture()
	partnerID := uuid.New()
	f.seedWallet(t, partnerID, 500_000)

	created, err := f.tracker.RequestSettlement(context.Background(), RequestInput{
		PartnerID:   partnerID,
		Kind:        domain.SettlementKindDisbursement,
		AmountCents: 100_000,
		Target:      "254700000001",
	})
	require.NoError(t, err)

	// Make backoff delays fire immediately.
	f.tracker.retryBaseDelay = 0

	for attempt := 1; attempt <= domain.DefaultMaxRetries; attempt++ {
		req := f.dispatchOne(t)
		failed, err := f.tracker.HandleResult(context.Background(), Outcome{
			CorrelationID: req.CorrelationID,
			Success:       false,
			ResultCode:    "1",
		})
		require.NoError(t, err)
		require.Equal(t, domain.SettlementStatusFailed, failed.Status)
		require.Equal(t, attempt, failed.RetryCount)

		requeued, err := f.tracker.SweepRetries(context.Background(), 10)
		require.NoError(t, err)
		if attempt < domain.DefaultMaxRetries {
			require.Equal(t, 1, requeued)
		} else {
			require.Zero(t, requeued, "terminal request must not be requeued")
		}
	}

	final, err := f.tracker.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SettlementStatusFailed, final.Status)
	require.Equal(t, domain.DefaultMaxRetries, final.RetryCount)
	require.True(t, final.Terminal())

	_, err = f.tracker.Retry(context.Background(), created.ID, false)
	require.ErrorIs(t, err, ErrRetryExhausted)

	// Forced retry is the manual escape hatch.
	forced, err := f.tracker.Retry(context.Background(), created.ID, true)
	require.NoError(t, err)
	require.Equal(t, domain.SettlementStatusPending, forced.Status)
	require.Equal(t, domain.DefaultMaxRetries, forced.RetryCount)

	// No wallet mutation happened across all those failures.
	account, err := f.ledger.Balance(context.Background(), partnerID)
	require.NoError(t, err)
	require.Equal(t, int64(500_000), account.BalanceCents)
}

func TestSweepTimeouts(t *testing.T) {
	f := newFixture()
	partnerID := uuid.New()

	created, err := f.tracker.RequestSettlement(context.Background(), RequestInput{
		PartnerID:   partnerID,
		Kind:        domain.SettlementKindTopUp,
		AmountCents: 100_000,
		Target:      "254700000001",
	})
	require.NoError(t, err)
	f.dispatchOne(t)

	// Inside the window: nothing times out.
	timedOut, err := f.tracker.SweepTimeouts(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, timedOut)

	f.tracker.now = func() time.Time { return time.Now().Add(time.Minute) }
	timedOut, err = f.tracker.SweepTimeouts(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, timedOut)

	req, err := f.tracker.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SettlementStatusTimeout, req.Status)
	require.Equal(t, domain.ResultCodeTimeout, req.ResultCode)
	require.Equal(t, 1, req.RetryCount)
	require.NotNil(t, req.NextRetryAt)

	// The account was never mutated.
	_, err = f.ledger.Balance(context.Background(), partnerID)
	require.ErrorIs(t, err, wallet.ErrWalletNotFound)
}

func TestDispatchDue_TransientErrorConsumesRetry(t *testing.T) {
	f := newFixture()
	f.prov.errs = []error{&provider.Error{Code: "UNAVAILABLE", Message: "try later", Transient: true}}

	created, err := f.tracker.RequestSettlement(context.Background(), RequestInput{
		PartnerID:   uuid.New(),
		Kind:        domain.SettlementKindTopUp,
		AmountCents: 100_000,
		Target:      "254700000001",
	})
	require.NoError(t, err)

	n, err := f.tracker.DispatchDue(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, n)

	req, err := f.tracker.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SettlementStatusFailed, req.Status)
	require.Equal(t, 1, req.RetryCount)
	require.NotNil(t, req.NextRetryAt)
}

func TestDispatchDue_PermanentErrorDoesNotConsumeRetry(t *testing.T) {
	f := newFixture()
	f.prov.errs = []error{&provider.Error{Code: "REJECTED", Message: "bad recipient", Transient: false}}

	created, err := f.tracker.RequestSettlement(context.Background(), RequestInput{
		PartnerID:   uuid.New(),
		Kind:        domain.SettlementKindTopUp,
		AmountCents: 100_000,
		Target:      "bad",
	})
	require.NoError(t, err)

	_, err = f.tracker.DispatchDue(context.Background(), 10)
	require.NoError(t, err)

	req, err := f.tracker.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SettlementStatusFailed, req.Status)
	require.Zero(t, req.RetryCount)
	require.Nil(t, req.NextRetryAt)

	// Never auto-retried, but an operator can force it.
	f.tracker.now = func() time.Time { return time.Now().Add(time.Hour) }
	requeued, err := f.tracker.SweepRetries(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, requeued)

	_, err = f.tracker.Retry(context.Background(), created.ID, false)
	require.NoError(t, err, "retries remain, manual retry is eligible")
}

func TestSweepTimeouts_RecoversStaleClaims(t *testing.T) {
	f := newFixture()

	created, err := f.tracker.RequestSettlement(context.Background(), RequestInput{
		PartnerID:   uuid.New(),
		Kind:        domain.SettlementKindTopUp,
		AmountCents: 100_000,
		Target:      "254700000001",
	})
	require.NoError(t, err)

	// Claim without dispatching, as if the worker died mid-cycle.
	claimed, err := f.tracker.store.ClaimDispatchable(context.Background(), time.Now().Add(-3*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	_, err = f.tracker.SweepTimeouts(context.Background(), 10)
	require.NoError(t, err)

	req, err := f.tracker.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Nil(t, req.ClaimedAt)

	// Dispatchable again.
	n, err := f.tracker.DispatchDue(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

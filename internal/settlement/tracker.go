package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paymentvault/wallet-service/internal/domain"
	"github.com/paymentvault/wallet-service/internal/models"
	"github.com/paymentvault/wallet-service/internal/observability"
	"github.com/paymentvault/wallet-service/internal/provider"
	"github.com/paymentvault/wallet-service/internal/wallet"
)

var (
	ErrInvalidTransition = errors.New("invalid settlement state transition")
	ErrRetryExhausted    = errors.New("settlement retries exhausted")
	ErrOTPRequired       = errors.New("a validated otp challenge is required for this kind")
	ErrNotRetryable      = errors.New("settlement request is not in a retryable state")
)

// staleClaimRecoveryWindow is how long a claim may sit without a
// recorded dispatch before the sweep assumes the worker died.
const staleClaimRecoveryWindow = 2 * time.Minute

// defaultTimeoutWindow is how long after dispatch a callback may take
// before the request times out.
const defaultTimeoutWindow = 35 * time.Second

var settlementTransitions = map[string]map[string]struct{}{
	domain.SettlementStatusPending: {
		domain.SettlementStatusSuccess: {},
		domain.SettlementStatusFailed:  {},
		domain.SettlementStatusTimeout: {},
	},
	domain.SettlementStatusFailed: {
		domain.SettlementStatusPending: {},
	},
	domain.SettlementStatusTimeout: {
		domain.SettlementStatusPending: {},
	},
	domain.SettlementStatusSuccess: {},
}

func canTransition(current, next string) bool {
	current = strings.ToUpper(strings.TrimSpace(current))
	next = strings.ToUpper(strings.TrimSpace(next))
	nextStates, ok := settlementTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// OTPConsumer binds a validated challenge to the settlement that spends
// it.
type OTPConsumer interface {
	Consume(ctx context.Context, reference string, partnerID uuid.UUID, amountCents int64) error
}

// Tracker owns the settlement request state machine. It is the only
// writer of SettlementRequest rows and the only caller of the ledger
// for settlement outcomes.
type Tracker struct {
	store    Store
	ledger   *wallet.Ledger
	otp      OTPConsumer
	provider provider.Provider

	timeoutWindow  time.Duration
	retryBaseDelay time.Duration
	maxRetries     int
	now            func() time.Time
}

func NewTracker(store Store, ledger *wallet.Ledger, otpConsumer OTPConsumer, prov provider.Provider) *Tracker {
	return &Tracker{
		store:          store,
		ledger:         ledger,
		otp:            otpConsumer,
		provider:       prov,
		timeoutWindow:  defaultTimeoutWindow,
		retryBaseDelay: domain.RetryBaseDelay,
		maxRetries:     domain.DefaultMaxRetries,
		now:            time.Now,
	}
}

// RequestInput holds the parameters for creating a settlement request.
type RequestInput struct {
	PartnerID   uuid.UUID
	Kind        string
	AmountCents int64
	Target      string

	// OTPReference is required for sensitive kinds; it must name a
	// validated challenge bound to the same partner and amount.
	OTPReference string
}

// RequestSettlement creates a PENDING request. Dispatch to the provider
// happens asynchronously from the background worker.
func (t *Tracker) RequestSettlement(ctx context.Context, input RequestInput) (*models.SettlementRequest, error) {
	if input.PartnerID == uuid.Nil {
		return nil, errors.New("partner_id is required")
	}
	if !domain.ValidSettlementKind(input.Kind) {
		return nil, fmt.Errorf("invalid settlement kind: %s", input.Kind)
	}
	if input.AmountCents <= 0 {
		return nil, fmt.Errorf("invalid amount: %d", input.AmountCents)
	}
	if input.Target == "" {
		return nil, errors.New("target is required")
	}

	if domain.SensitiveKind(input.Kind) {
		if input.OTPReference == "" {
			return nil, ErrOTPRequired
		}
		if err := t.otp.Consume(ctx, input.OTPReference, input.PartnerID, input.AmountCents); err != nil {
			return nil, fmt.Errorf("otp authorization failed: %w", err)
		}
	}

	req, err := t.store.Create(ctx, models.SettlementRequest{
		PartnerID:    input.PartnerID,
		Kind:         input.Kind,
		Status:       domain.SettlementStatusPending,
		AmountCents:  input.AmountCents,
		Target:       input.Target,
		OTPReference: input.OTPReference,
		MaxRetries:   t.maxRetries,
	})
	if err != nil {
		return nil, err
	}

	observability.IncrementSettlementTransition(domain.SettlementStatusPending)
	zap.L().Info("settlement request created",
		zap.String("request_id", req.ID.String()),
		zap.String("kind", req.Kind),
		zap.Int64("amount_cents", req.AmountCents),
	)
	return req, nil
}

// Get returns a request by id.
func (t *Tracker) Get(ctx context.Context, id uuid.UUID) (*models.SettlementRequest, error) {
	return t.store.Get(ctx, id)
}

// GetByCorrelationID resolves a provider correlation id to its request.
func (t *Tracker) GetByCorrelationID(ctx context.Context, correlationID string) (*models.SettlementRequest, error) {
	return t.store.GetByCorrelationID(ctx, correlationID)
}

// ListByPartner returns recent requests for a partner, newest first.
func (t *Tracker) ListByPartner(ctx context.Context, partnerID uuid.UUID, limit int32) ([]models.SettlementRequest, error) {
	return t.store.ListByPartner(ctx, partnerID, limit)
}

// Outcome is a normalized provider callback result.
type Outcome struct {
	CorrelationID     string
	Success           bool
	ResultCode        string
	ResultDescription string

	UtilityBalanceCents *int64
	WorkingBalanceCents *int64
	ChargesBalanceCents *int64
}

// HandleResult drives a request from PENDING to SUCCESS or FAILED based
// on a callback. A callback for a terminal request is acknowledged
// without any write; the ledger mutation on SUCCESS is idempotent by
// the request-derived reference, so replays can never double-apply.
func (t *Tracker) HandleResult(ctx context.Context, outcome Outcome) (*models.SettlementRequest, error) {
	req, err := t.store.GetByCorrelationID(ctx, outcome.CorrelationID)
	if err != nil {
		return nil, err
	}

	if req.Terminal() || req.Status != domain.SettlementStatusPending {
		observability.IncrementCallback("duplicate")
		zap.L().Info("callback for settled request ignored",
			zap.String("request_id", req.ID.String()),
			zap.String("status", req.Status),
			zap.String("correlation_id", outcome.CorrelationID),
		)
		return req, nil
	}

	if outcome.Success {
		return t.complete(ctx, req, outcome)
	}
	return t.fail(ctx, req, domain.SettlementStatusFailed, outcome.ResultCode, outcome.ResultDescription, outcome)
}

func (t *Tracker) complete(ctx context.Context, req *models.SettlementRequest, outcome Outcome) (*models.SettlementRequest, error) {
	if !canTransition(req.Status, domain.SettlementStatusSuccess) {
		return nil, ErrInvalidTransition
	}

	// Apply the monetary effect first. The reference makes this safe
	// against a crash between the ledger write and the status update:
	// the replayed callback re-applies as a no-op.
	amount := req.AmountCents
	if domain.DebitType(domain.TxTypeForKind(req.Kind)) {
		amount = -amount
	}
	_, err := t.ledger.Apply(ctx, wallet.ApplyInput{
		PartnerID:   req.PartnerID,
		AmountCents: amount,
		Type:        domain.TxTypeForKind(req.Kind),
		Reference:   LedgerReference(req.ID),
		Metadata: map[string]string{
			"settlement_request_id": req.ID.String(),
			"correlation_id":        req.CorrelationID,
			"result_code":           outcome.ResultCode,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("apply settlement to ledger: %w", err)
	}

	prior := req.Status
	req.Status = domain.SettlementStatusSuccess
	req.ResultCode = outcome.ResultCode
	req.ResultDescription = outcome.ResultDescription
	req.UtilityBalanceCents = outcome.UtilityBalanceCents
	req.WorkingBalanceCents = outcome.WorkingBalanceCents
	req.ChargesBalanceCents = outcome.ChargesBalanceCents
	if err := t.store.Update(ctx, req, prior); err != nil {
		return nil, err
	}

	observability.IncrementSettlementTransition(domain.SettlementStatusSuccess)
	zap.L().Info("settlement completed",
		zap.String("request_id", req.ID.String()),
		zap.String("correlation_id", req.CorrelationID),
	)
	return req, nil
}

// fail marks a failed or timed-out attempt. The attempt consumes one
// retry; if attempts remain, the next retry is scheduled with
// exponential backoff.
func (t *Tracker) fail(ctx context.Context, req *models.SettlementRequest, status, code, description string, outcome Outcome) (*models.SettlementRequest, error) {
	if !canTransition(req.Status, status) {
		return nil, ErrInvalidTransition
	}

	prior := req.Status
	req.Status = status
	req.ResultCode = code
	req.ResultDescription = description
	req.UtilityBalanceCents = outcome.UtilityBalanceCents
	req.WorkingBalanceCents = outcome.WorkingBalanceCents
	req.ChargesBalanceCents = outcome.ChargesBalanceCents

	if req.RetryCount < req.MaxRetries {
		req.RetryCount++
	}
	if req.RetryCount < req.MaxRetries {
		next := t.now().Add(t.backoff(req.RetryCount))
		req.NextRetryAt = &next
	} else {
		req.NextRetryAt = nil
	}

	if err := t.store.Update(ctx, req, prior); err != nil {
		return nil, err
	}

	observability.IncrementSettlementTransition(status)
	zap.L().Warn("settlement attempt failed",
		zap.String("request_id", req.ID.String()),
		zap.String("status", status),
		zap.String("result_code", code),
		zap.Int("retry_count", req.RetryCount),
	)
	return req, nil
}

// backoff doubles the base delay per consumed attempt.
func (t *Tracker) backoff(retryCount int) time.Duration {
	delay := t.retryBaseDelay
	for i := 1; i < retryCount; i++ {
		delay *= 2
	}
	return delay
}

// HandleTimeout drives a request to TIMEOUT off the provider's
// queue-timeout callback. Like HandleResult, a terminal request is
// acknowledged without a write.
func (t *Tracker) HandleTimeout(ctx context.Context, correlationID string) (*models.SettlementRequest, error) {
	req, err := t.store.GetByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if req.Terminal() || req.Status != domain.SettlementStatusPending {
		observability.IncrementCallback("duplicate")
		zap.L().Info("timeout callback for settled request ignored",
			zap.String("request_id", req.ID.String()),
			zap.String("status", req.Status),
		)
		return req, nil
	}
	return t.fail(ctx, req, domain.SettlementStatusTimeout, domain.ResultCodeTimeout,
		"provider reported queue timeout", Outcome{})
}

// Retry transitions a FAILED or TIMEOUT request back to PENDING.
// Without force, eligibility requires remaining retries; force is the
// explicit operator override and works exactly once per call, but never
// lowers the retry count.
func (t *Tracker) Retry(ctx context.Context, id uuid.UUID, force bool) (*models.SettlementRequest, error) {
	req, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.SettlementStatusFailed && req.Status != domain.SettlementStatusTimeout {
		return nil, ErrNotRetryable
	}
	if !force && req.RetryCount >= req.MaxRetries {
		return nil, ErrRetryExhausted
	}
	return t.requeue(ctx, req)
}

func (t *Tracker) requeue(ctx context.Context, req *models.SettlementRequest) (*models.SettlementRequest, error) {
	if !canTransition(req.Status, domain.SettlementStatusPending) {
		return nil, ErrInvalidTransition
	}
	prior := req.Status
	req.Status = domain.SettlementStatusPending
	req.NextRetryAt = nil
	req.ClaimedAt = nil
	req.DispatchedAt = nil
	if err := t.store.Update(ctx, req, prior); err != nil {
		return nil, err
	}
	observability.IncrementSettlementTransition(domain.SettlementStatusPending)
	return req, nil
}

// DispatchDue claims due PENDING requests and hands them to the
// provider. Called from the dispatch worker; the claim step guarantees
// a request is never dispatched twice concurrently.
func (t *Tracker) DispatchDue(ctx context.Context, batchSize int32) (int, error) {
	claimed, err := t.store.ClaimDispatchable(ctx, t.now(), batchSize)
	if err != nil {
		return 0, err
	}
	observability.SetDispatchClaimed(len(claimed))
	if len(claimed) == 0 {
		return 0, nil
	}

	dispatched := 0
	for i := range claimed {
		req := &claimed[i]
		if err := ctx.Err(); err != nil {
			t.releaseClaims(context.Background(), claimed[i:])
			return dispatched, err
		}

		correlationID, err := t.provider.Dispatch(ctx, provider.DispatchInput{
			RequestID:   req.ID,
			Kind:        req.Kind,
			AmountCents: req.AmountCents,
			Target:      req.Target,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				t.releaseClaims(context.Background(), claimed[i:])
				return dispatched, err
			}
			t.handleDispatchError(ctx, req, err)
			continue
		}

		now := t.now()
		req.CorrelationID = correlationID
		req.DispatchedAt = &now
		if err := t.store.Update(ctx, req, domain.SettlementStatusPending); err != nil {
			zap.L().Error("record settlement dispatch failed",
				zap.Error(err),
				zap.String("request_id", req.ID.String()),
				zap.String("correlation_id", correlationID),
			)
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

// handleDispatchError applies the provider error taxonomy: transient
// failures consume a retry and reschedule; permanent rejections mark
// the request FAILED without consuming one, leaving it to the operator.
func (t *Tracker) handleDispatchError(ctx context.Context, req *models.SettlementRequest, dispatchErr error) {
	if provider.IsTransient(dispatchErr) {
		if _, err := t.fail(ctx, req, domain.SettlementStatusFailed, "DISPATCH_ERROR", dispatchErr.Error(), Outcome{}); err != nil {
			zap.L().Error("mark settlement dispatch failure failed",
				zap.Error(err),
				zap.String("request_id", req.ID.String()),
			)
		}
		return
	}

	prior := req.Status
	req.Status = domain.SettlementStatusFailed
	req.ResultCode = "REJECTED"
	req.ResultDescription = dispatchErr.Error()
	req.NextRetryAt = nil
	if err := t.store.Update(ctx, req, prior); err != nil {
		zap.L().Error("mark settlement permanent failure failed",
			zap.Error(err),
			zap.String("request_id", req.ID.String()),
		)
		return
	}
	observability.IncrementSettlementTransition(domain.SettlementStatusFailed)
	zap.L().Warn("settlement rejected by provider",
		zap.String("request_id", req.ID.String()),
		zap.String("reason", dispatchErr.Error()),
	)
}

func (t *Tracker) releaseClaims(ctx context.Context, reqs []models.SettlementRequest) {
	for i := range reqs {
		req := reqs[i]
		req.ClaimedAt = nil
		if err := t.store.Update(ctx, &req, domain.SettlementStatusPending); err != nil {
			zap.L().Error("release settlement claim failed",
				zap.Error(err),
				zap.String("request_id", req.ID.String()),
			)
		}
	}
}

// SweepTimeouts moves PENDING requests whose callback window elapsed to
// TIMEOUT, and requeues claims abandoned by a crashed worker.
func (t *Tracker) SweepTimeouts(ctx context.Context, batchSize int32) (int, error) {
	if requeued, err := t.store.RequeueStaleClaims(ctx, t.now().Add(-staleClaimRecoveryWindow)); err != nil {
		return 0, err
	} else if requeued > 0 {
		zap.L().Warn("recovered stale settlement claims", zap.Int("count", requeued))
	}

	overdue, err := t.store.ListOverdueDispatched(ctx, t.now().Add(-t.timeoutWindow), batchSize)
	if err != nil {
		return 0, err
	}

	timedOut := 0
	for i := range overdue {
		req := overdue[i]
		if _, err := t.fail(ctx, &req, domain.SettlementStatusTimeout, domain.ResultCodeTimeout,
			"no provider callback within the timeout window", Outcome{}); err != nil {
			if errors.Is(err, ErrStatusConflict) {
				// A callback landed between the scan and the write.
				continue
			}
			return timedOut, err
		}
		timedOut++
	}
	return timedOut, nil
}

// SweepRetries requeues FAILED and TIMEOUT requests whose backoff delay
// elapsed and which still have retries left.
func (t *Tracker) SweepRetries(ctx context.Context, batchSize int32) (int, error) {
	due, err := t.store.ListRetryable(ctx, t.now(), batchSize)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for i := range due {
		req := due[i]
		if _, err := t.requeue(ctx, &req); err != nil {
			if errors.Is(err, ErrStatusConflict) {
				continue
			}
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

// LedgerReference derives the idempotency reference that ties a
// settlement's ledger entry to its request.
func LedgerReference(requestID uuid.UUID) string {
	return "SR-" + requestID.String()
}

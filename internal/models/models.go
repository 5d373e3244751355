package models

import (
	"time"

	"github.com/google/uuid"
)

// WalletAccount is a partner's authoritative balance. One per partner,
// created lazily on first mutation, never hard-deleted.
type WalletAccount struct {
	ID                       uuid.UUID `json:"id"`
	PartnerID                uuid.UUID `json:"partner_id"`
	BalanceCents             int64     `json:"balance_cents"`
	Currency                 string    `json:"currency"`
	LowBalanceThresholdCents int64     `json:"low_balance_threshold_cents"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// WalletTransaction is an append-only ledger entry. The pair
// (WalletID, Reference) is unique; replays of a reference are no-ops.
type WalletTransaction struct {
	ID          uuid.UUID         `json:"id"`
	WalletID    uuid.UUID         `json:"wallet_id"`
	Type        string            `json:"type"`
	AmountCents int64             `json:"amount_cents"` // signed
	Reference   string            `json:"reference"`
	Status      string            `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// SettlementRequest tracks one external operation attempt lineage.
type SettlementRequest struct {
	ID            uuid.UUID `json:"id"`
	PartnerID     uuid.UUID `json:"partner_id"`
	Kind          string    `json:"kind"`
	CorrelationID string    `json:"correlation_id"`
	Status        string    `json:"status"`
	AmountCents   int64     `json:"amount_cents"`
	Target        string    `json:"target"`
	OTPReference  string    `json:"otp_reference,omitempty"`

	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`

	ResultCode        string `json:"result_code,omitempty"`
	ResultDescription string `json:"result_description,omitempty"`

	// Balance-at-confirmation figures reported by the provider, if any.
	UtilityBalanceCents *int64 `json:"utility_balance_cents,omitempty"`
	WorkingBalanceCents *int64 `json:"working_balance_cents,omitempty"`
	ChargesBalanceCents *int64 `json:"charges_balance_cents,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the request can transition no further
// without operator intervention.
func (r *SettlementRequest) Terminal() bool {
	switch r.Status {
	case "SUCCESS":
		return true
	case "FAILED", "TIMEOUT":
		return r.RetryCount >= r.MaxRetries
	}
	return false
}

// OTPChallenge is an ephemeral authorization token for sensitive
// settlement kinds.
type OTPChallenge struct {
	Reference   string    `json:"reference"`
	UserID      uuid.UUID `json:"user_id"`
	PartnerID   uuid.UUID `json:"partner_id"`
	Purpose     string    `json:"purpose"`
	AmountCents int64     `json:"amount_cents"`
	Code        string    `json:"-"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// BalanceSnapshot is one observation of a partner's provider-side
// balances. Immutable once written.
type BalanceSnapshot struct {
	ID                  uuid.UUID `json:"id"`
	PartnerID           uuid.UUID `json:"partner_id"`
	Source              string    `json:"source"`
	UtilityBalanceCents int64     `json:"utility_balance_cents"`
	WorkingBalanceCents int64     `json:"working_balance_cents"`
	ChargesBalanceCents int64     `json:"charges_balance_cents"`
	CapturedAt          time.Time `json:"captured_at"`
}

package domain

import "time"

const (
	// DefaultCurrency is the only currency the service settles in.
	DefaultCurrency = "KES"

	// Wallet transaction types.
	TxTypeTopUp         = "top_up"
	TxTypeDisbursement  = "disbursement"
	TxTypeFloatPurchase = "float_purchase"
	TxTypeCharge        = "charge"
	TxTypeManualCredit  = "manual_credit"
	TxTypeManualDebit   = "manual_debit"

	TxStatusCompleted = "completed"

	// Settlement request statuses.
	SettlementStatusPending = "PENDING"
	SettlementStatusSuccess = "SUCCESS"
	SettlementStatusFailed  = "FAILED"
	SettlementStatusTimeout = "TIMEOUT"

	// Settlement kinds (which external operations a request can track).
	SettlementKindDisbursement  = "disbursement"
	SettlementKindTopUp         = "top_up"
	SettlementKindFloatPurchase = "float_purchase"

	// Balance snapshot sources, in priority order.
	SnapshotSourceExplicitCheck      = "explicit_check"
	SnapshotSourceSettlementCallback = "settlement_callback"

	// OTP challenge statuses.
	OTPStatusPending   = "pending"
	OTPStatusValidated = "validated"
	OTPStatusConsumed  = "consumed"
	OTPStatusExpired   = "expired"
	OTPStatusFailed    = "failed"

	ResultCodeTimeout = "TIMEOUT"
)

const (
	OTPCodeLength  = 6
	OTPMaxAttempts = 3
	OTPExpiry      = 10 * time.Minute

	DefaultMaxRetries = 3
	RetryBaseDelay    = 5 * time.Minute

	// LowBalanceThresholdCents is the default warning level for a
	// partner wallet: KES 1,000.
	LowBalanceThresholdCents int64 = 100_000
)

// Freshness buckets for balance readings.
const (
	FreshnessFresh  = "fresh"
	FreshnessRecent = "recent"
	FreshnessStale  = "stale"

	FreshWindow  = time.Hour
	RecentWindow = 24 * time.Hour
)

// DebitType reports whether a wallet transaction type reduces the balance
// and is therefore subject to the insufficient-balance check.
func DebitType(txType string) bool {
	switch txType {
	case TxTypeDisbursement, TxTypeCharge, TxTypeManualDebit:
		return true
	}
	return false
}

// ValidTxType reports whether txType is one of the known ledger entry types.
func ValidTxType(txType string) bool {
	switch txType {
	case TxTypeTopUp, TxTypeDisbursement, TxTypeFloatPurchase,
		TxTypeCharge, TxTypeManualCredit, TxTypeManualDebit:
		return true
	}
	return false
}

// ValidSettlementKind reports whether kind names a trackable external operation.
func ValidSettlementKind(kind string) bool {
	switch kind {
	case SettlementKindDisbursement, SettlementKindTopUp, SettlementKindFloatPurchase:
		return true
	}
	return false
}

// SensitiveKind reports whether a settlement kind requires a validated
// OTP challenge before dispatch.
func SensitiveKind(kind string) bool {
	return kind == SettlementKindFloatPurchase
}

// TxTypeForKind maps a settlement kind to the ledger entry type written
// when the settlement succeeds.
func TxTypeForKind(kind string) string {
	switch kind {
	case SettlementKindTopUp:
		return TxTypeTopUp
	case SettlementKindFloatPurchase:
		return TxTypeFloatPurchase
	default:
		return TxTypeDisbursement
	}
}

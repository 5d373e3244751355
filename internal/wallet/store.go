package wallet

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/paymentvault/wallet-service/internal/models"
)

var (
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrWalletNotFound      = errors.New("wallet not found")
)

// ApplyParams describes one atomic balance mutation. The store must
// perform the duplicate-reference check, the balance read, the
// insufficient-balance check, the balance write, and the transaction
// insert as a single serialized unit per wallet.
type ApplyParams struct {
	PartnerID   uuid.UUID
	AmountCents int64 // signed
	Type        string
	Reference   string
	Metadata    map[string]string

	// AllowNegative bypasses the insufficient-balance check. Set only
	// for explicitly flagged manual corrective entries.
	AllowNegative bool
}

// ApplyResult is the outcome of a mutation. Duplicate means a
// transaction with the same (wallet, reference) already existed and no
// balance change was made.
type ApplyResult struct {
	Account     models.WalletAccount
	Transaction models.WalletTransaction
	Duplicate   bool
}

// Store is the persistence contract for wallet accounts and their
// transaction logs.
type Store interface {
	// Apply atomically mutates a wallet balance and appends the matching
	// transaction, creating the account lazily on first use. Returns
	// ErrInsufficientBalance when a debit would push the balance below
	// zero and AllowNegative is not set.
	Apply(ctx context.Context, params ApplyParams) (*ApplyResult, error)

	// AccountByPartner returns the partner's wallet, or ErrWalletNotFound
	// if no mutation has ever created one.
	AccountByPartner(ctx context.Context, partnerID uuid.UUID) (*models.WalletAccount, error)

	// Transactions returns the newest ledger entries for a partner's
	// wallet, most recent first.
	Transactions(ctx context.Context, partnerID uuid.UUID, limit int32) ([]models.WalletTransaction, error)

	// SumTransactions returns the sum of all transaction amounts for a
	// wallet. Used by the consistency check.
	SumTransactions(ctx context.Context, walletID uuid.UUID) (int64, error)
}

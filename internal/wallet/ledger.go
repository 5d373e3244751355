package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paymentvault/wallet-service/internal/domain"
	"github.com/paymentvault/wallet-service/internal/models"
	"github.com/paymentvault/wallet-service/internal/notifier"
	"github.com/paymentvault/wallet-service/internal/observability"
)

// Ledger owns the authoritative partner balance. It is the only
// component allowed to mutate WalletAccount rows; all mutations go
// through Apply.
type Ledger struct {
	store    Store
	notifier notifier.Notifier
}

func NewLedger(store Store, n notifier.Notifier) *Ledger {
	return &Ledger{store: store, notifier: n}
}

// ApplyInput describes a requested balance mutation.
type ApplyInput struct {
	PartnerID   uuid.UUID
	AmountCents int64 // signed
	Type        string
	Reference   string
	Metadata    map[string]string

	// AllowNegative is honored only for manual corrective entries.
	AllowNegative bool
}

// Apply validates and applies one mutation. Replaying a reference
// returns the prior transaction without a second balance change; that
// is a success, not an error.
func (l *Ledger) Apply(ctx context.Context, input ApplyInput) (*ApplyResult, error) {
	if input.AmountCents == 0 {
		return nil, fmt.Errorf("invalid amount: 0")
	}
	if input.Reference == "" {
		return nil, errors.New("reference is required")
	}
	if !domain.ValidTxType(input.Type) {
		return nil, fmt.Errorf("invalid transaction type: %s", input.Type)
	}
	if domain.DebitType(input.Type) && input.AmountCents > 0 {
		return nil, fmt.Errorf("debit type %s requires a negative amount", input.Type)
	}
	if !domain.DebitType(input.Type) && input.AmountCents < 0 {
		return nil, fmt.Errorf("credit type %s requires a positive amount", input.Type)
	}

	allowNegative := input.AllowNegative &&
		(input.Type == domain.TxTypeManualDebit || input.Type == domain.TxTypeManualCredit)

	result, err := l.store.Apply(ctx, ApplyParams{
		PartnerID:     input.PartnerID,
		AmountCents:   input.AmountCents,
		Type:          input.Type,
		Reference:     input.Reference,
		Metadata:      input.Metadata,
		AllowNegative: allowNegative,
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			observability.IncrementLedgerMutation(input.Type, "rejected")
		}
		return nil, err
	}

	if result.Duplicate {
		observability.IncrementLedgerMutation(input.Type, "duplicate")
		zap.L().Info("duplicate ledger reference ignored",
			zap.String("partner_id", input.PartnerID.String()),
			zap.String("reference", input.Reference),
		)
		return result, nil
	}

	observability.IncrementLedgerMutation(input.Type, "applied")

	if input.AmountCents < 0 && result.Account.BalanceCents < result.Account.LowBalanceThresholdCents {
		l.notifyLowBalance(ctx, result.Account)
	}

	return result, nil
}

// notifyLowBalance fires a warning after a debit leaves the wallet
// below its threshold. Delivery failure never affects the mutation.
func (l *Ledger) notifyLowBalance(ctx context.Context, account models.WalletAccount) {
	if l.notifier == nil {
		return
	}
	msg := notifier.Message{
		Recipient: account.PartnerID.String(),
		Subject:   "Low wallet balance",
		Body: fmt.Sprintf("Wallet balance is %s, below the %s threshold. Top up to avoid failed disbursements.",
			domain.NewMoney(account.BalanceCents), domain.NewMoney(account.LowBalanceThresholdCents)),
	}
	if err := l.notifier.Send(ctx, msg); err != nil {
		zap.L().Warn("low balance notification failed",
			zap.Error(err),
			zap.String("partner_id", account.PartnerID.String()),
		)
	}
}

// Balance returns the partner's authoritative wallet account.
func (l *Ledger) Balance(ctx context.Context, partnerID uuid.UUID) (*models.WalletAccount, error) {
	return l.store.AccountByPartner(ctx, partnerID)
}

// Transactions returns recent ledger entries, newest first.
func (l *Ledger) Transactions(ctx context.Context, partnerID uuid.UUID, limit int32) ([]models.WalletTransaction, error) {
	return l.store.Transactions(ctx, partnerID, limit)
}

// Verify checks that the transaction log sums to the stored balance.
// A mismatch means the invariant was broken outside the ledger.
func (l *Ledger) Verify(ctx context.Context, partnerID uuid.UUID) error {
	account, err := l.store.AccountByPartner(ctx, partnerID)
	if err != nil {
		return err
	}
	sum, err := l.store.SumTransactions(ctx, account.ID)
	if err != nil {
		return err
	}
	if sum != account.BalanceCents {
		return fmt.Errorf("wallet %s inconsistent: balance %d, transaction sum %d",
			account.ID, account.BalanceCents, sum)
	}
	return nil
}

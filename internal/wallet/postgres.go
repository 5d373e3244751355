package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paymentvault/wallet-service/internal/domain"
	"github.com/paymentvault/wallet-service/internal/models"
)

// PostgresStore implements Store on a pgx connection pool. Per-wallet
// serialization comes from the row lock taken on the account inside the
// mutation transaction.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Apply(ctx context.Context, params ApplyParams) (*ApplyResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lazily create the account, then lock it for the whole mutation.
	_, err = tx.Exec(ctx, `
		INSERT INTO wallet_accounts (id, partner_id, balance_cents, currency, low_balance_threshold_cents, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $4, NOW(), NOW())
		ON CONFLICT (partner_id) DO NOTHING`,
		uuid.New(), params.PartnerID, domain.DefaultCurrency, domain.LowBalanceThresholdCents)
	if err != nil {
		return nil, fmt.Errorf("ensure wallet account: %w", err)
	}

	var account models.WalletAccount
	err = tx.QueryRow(ctx, `
		SELECT id, partner_id, balance_cents, currency, low_balance_threshold_cents, created_at, updated_at
		FROM wallet_accounts WHERE partner_id = $1 FOR UPDATE`,
		params.PartnerID,
	).Scan(&account.ID, &account.PartnerID, &account.BalanceCents, &account.Currency,
		&account.LowBalanceThresholdCents, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("lock wallet account: %w", err)
	}

	// Duplicate-reference check inside the lock so a concurrent replay
	// of the same reference cannot slip past it.
	var existing models.WalletTransaction
	var existingMeta []byte
	err = tx.QueryRow(ctx, `
		SELECT id, wallet_id, type, amount_cents, reference, status, metadata, created_at
		FROM wallet_transactions WHERE wallet_id = $1 AND reference = $2`,
		account.ID, params.Reference,
	).Scan(&existing.ID, &existing.WalletID, &existing.Type, &existing.AmountCents,
		&existing.Reference, &existing.Status, &existingMeta, &existing.CreatedAt)
	if err == nil {
		if len(existingMeta) > 0 {
			_ = json.Unmarshal(existingMeta, &existing.Metadata)
		}
		return &ApplyResult{Account: account, Transaction: existing, Duplicate: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check transaction reference: %w", err)
	}

	newBalance := account.BalanceCents + params.AmountCents
	if newBalance < 0 && !params.AllowNegative {
		return nil, ErrInsufficientBalance
	}

	entry := models.WalletTransaction{
		ID:          uuid.New(),
		WalletID:    account.ID,
		Type:        params.Type,
		AmountCents: params.AmountCents,
		Reference:   params.Reference,
		Status:      domain.TxStatusCompleted,
		Metadata:    params.Metadata,
	}

	metadata, err := json.Marshal(params.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode transaction metadata: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, type, amount_cents, reference, status, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at`,
		entry.ID, entry.WalletID, entry.Type, entry.AmountCents, entry.Reference, entry.Status, metadata,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert wallet transaction: %w", err)
	}

	err = tx.QueryRow(ctx, `
		UPDATE wallet_accounts SET balance_cents = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING updated_at`,
		newBalance, account.ID,
	).Scan(&account.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update wallet balance: %w", err)
	}
	account.BalanceCents = newBalance

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &ApplyResult{Account: account, Transaction: entry}, nil
}

func (s *PostgresStore) AccountByPartner(ctx context.Context, partnerID uuid.UUID) (*models.WalletAccount, error) {
	var account models.WalletAccount
	err := s.db.QueryRow(ctx, `
		SELECT id, partner_id, balance_cents, currency, low_balance_threshold_cents, created_at, updated_at
		FROM wallet_accounts WHERE partner_id = $1`,
		partnerID,
	).Scan(&account.ID, &account.PartnerID, &account.BalanceCents, &account.Currency,
		&account.LowBalanceThresholdCents, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet account: %w", err)
	}
	return &account, nil
}

func (s *PostgresStore) Transactions(ctx context.Context, partnerID uuid.UUID, limit int32) ([]models.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.db.Query(ctx, `
		SELECT t.id, t.wallet_id, t.type, t.amount_cents, t.reference, t.status, t.metadata, t.created_at
		FROM wallet_transactions t
		JOIN wallet_accounts a ON a.id = t.wallet_id
		WHERE a.partner_id = $1
		ORDER BY t.created_at DESC
		LIMIT $2`,
		partnerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer rows.Close()

	var out []models.WalletTransaction
	for rows.Next() {
		var entry models.WalletTransaction
		var metadata []byte
		if err := rows.Scan(&entry.ID, &entry.WalletID, &entry.Type, &entry.AmountCents,
			&entry.Reference, &entry.Status, &metadata, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &entry.Metadata)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SumTransactions(ctx context.Context, walletID uuid.UUID) (int64, error) {
	var sum int64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM wallet_transactions WHERE wallet_id = $1`,
		walletID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum wallet transactions: %w", err)
	}
	return sum, nil
}

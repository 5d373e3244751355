package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paymentvault/wallet-service/internal/models"
)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, snap models.BalanceSnapshot) (*models.BalanceSnapshot, error) {
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO balance_snapshots (id, partner_id, source, utility_balance_cents, working_balance_cents, charges_balance_cents, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		snap.ID, snap.PartnerID, snap.Source,
		snap.UtilityBalanceCents, snap.WorkingBalanceCents, snap.ChargesBalanceCents,
		snap.CapturedAt)
	if err != nil {
		return nil, fmt.Errorf("insert balance snapshot: %w", err)
	}
	return &snap, nil
}

func (s *PostgresStore) Latest(ctx context.Context, partnerID uuid.UUID, source string) (*models.BalanceSnapshot, error) {
	var snap models.BalanceSnapshot
	err := s.db.QueryRow(ctx, `
		SELECT id, partner_id, source, utility_balance_cents, working_balance_cents, charges_balance_cents, captured_at
		FROM balance_snapshots
		WHERE partner_id = $1 AND source = $2
		ORDER BY captured_at DESC
		LIMIT 1`,
		partnerID, source,
	).Scan(&snap.ID, &snap.PartnerID, &snap.Source,
		&snap.UtilityBalanceCents, &snap.WorkingBalanceCents, &snap.ChargesBalanceCents,
		&snap.CapturedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("get latest balance snapshot: %w", err)
	}
	return &snap, nil
}

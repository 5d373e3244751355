package settlement

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

const requestColumns = `id, partner_id, kind, correlation_id, status, amount_cents, target, otp_reference,
	retry_count, max_retries, next_retry_at, claimed_at, dispatched_at,
	result_code, result_description, utility_balance_cents, working_balance_cents, charges_balance_cents,
	created_at, updated_at`

func scanRequest(row pgx.Row) (*models.SettlementRequest, error) {
	var req models.SettlementRequest
	err := row.Scan(&req.ID, &req.PartnerID, &req.Kind, &req.CorrelationID, &req.Status,
		&req.AmountCents, &req.Target, &req.OTPReference,
		&req.RetryCount, &req.MaxRetries, &req.NextRetryAt, &req.ClaimedAt, &req.DispatchedAt,
		&req.ResultCode, &req.ResultDescription,
		&req.UtilityBalanceCents, &req.WorkingBalanceCents, &req.ChargesBalanceCents,
		&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *PostgresStore) Create(ctx context.Context, req models.SettlementRequest) (*models.SettlementRequest, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO settlement_requests
			(id, partner_id, kind, correlation_id, status, amount_cents, target, otp_reference,
			 retry_count, max_retries, next_retry_at, claimed_at, dispatched_at,
			 result_code, result_description, utility_balance_cents, working_balance_cents, charges_balance_cents,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, NULL, NULL, '', '', NULL, NULL, NULL, NOW(), NOW())
		RETURNING `+requestColumns,
		req.ID, req.PartnerID, req.Kind, req.CorrelationID, req.Status, req.AmountCents,
		req.Target, req.OTPReference, req.RetryCount, req.MaxRetries)
	created, err := scanRequest(row)
	if err != nil {
		return nil, fmt.Errorf("insert settlement request: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.SettlementRequest, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM settlement_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("get settlement request: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) GetByCorrelationID(ctx context.Context, correlationID string) (*models.SettlementRequest, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM settlement_requests WHERE correlation_id = $1 ORDER BY updated_at DESC LIMIT 1`,
		correlationID)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("get settlement request by correlation id: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) ListByPartner(ctx context.Context, partnerID uuid.UUID, limit int32) ([]models.SettlementRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+requestColumns+` FROM settlement_requests WHERE partner_id = $1 ORDER BY created_at DESC LIMIT $2`,
		partnerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list settlement requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (s *PostgresStore) Update(ctx context.Context, req *models.SettlementRequest, expectedStatus string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE settlement_requests SET
			correlation_id = $1, status = $2, retry_count = $3, next_retry_at = $4,
			claimed_at = $5, dispatched_at = $6, result_code = $7, result_description = $8,
			utility_balance_cents = $9, working_balance_cents = $10, charges_balance_cents = $11,
			updated_at = NOW()
		WHERE id = $12 AND status = $13`,
		req.CorrelationID, req.Status, req.RetryCount, req.NextRetryAt,
		req.ClaimedAt, req.DispatchedAt, req.ResultCode, req.ResultDescription,
		req.UtilityBalanceCents, req.WorkingBalanceCents, req.ChargesBalanceCents,
		req.ID, expectedStatus)
	if err != nil {
		return fmt.Errorf("update settlement request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *PostgresStore) ClaimDispatchable(ctx context.Context, now time.Time, limit int32) ([]models.SettlementRequest, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE settlement_requests SET claimed_at = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM settlement_requests
			WHERE status = 'PENDING'
			  AND claimed_at IS NULL
			  AND dispatched_at IS NULL
			  AND (next_retry_at IS NULL OR next_retry_at <= $1)
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+requestColumns,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim dispatchable settlement requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (s *PostgresStore) RequeueStaleClaims(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE settlement_requests SET claimed_at = NULL, updated_at = NOW()
		WHERE status = 'PENDING' AND dispatched_at IS NULL
		  AND claimed_at IS NOT NULL AND claimed_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue stale settlement claims: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListOverdueDispatched(ctx context.Context, cutoff time.Time, limit int32) ([]models.SettlementRequest, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+` FROM settlement_requests
		WHERE status = 'PENDING' AND dispatched_at IS NOT NULL AND dispatched_at < $1
		ORDER BY dispatched_at
		LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue settlement requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (s *PostgresStore) ListRetryable(ctx context.Context, now time.Time, limit int32) ([]models.SettlementRequest, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+` FROM settlement_requests
		WHERE status IN ('FAILED', 'TIMEOUT')
		  AND retry_count < max_retries
		  AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at
		LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("list retryable settlement requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]models.SettlementRequest, error) {
	var out []models.SettlementRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settlement request: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

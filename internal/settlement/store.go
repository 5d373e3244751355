package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/paymentvault/wallet-service/internal/models"
)

var (
	ErrRequestNotFound = errors.New("settlement request not found")

	// ErrStatusConflict means the request changed status between read
	// and write. Callers reload and re-evaluate.
	ErrStatusConflict = errors.New("settlement request status conflict")
)

// Store is the persistence contract for settlement requests.
type Store interface {
	Create(ctx context.Context, req models.SettlementRequest) (*models.SettlementRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*models.SettlementRequest, error)

	// GetByCorrelationID resolves the request an inbound callback
	// belongs to.
	GetByCorrelationID(ctx context.Context, correlationID string) (*models.SettlementRequest, error)

	ListByPartner(ctx context.Context, partnerID uuid.UUID, limit int32) ([]models.SettlementRequest, error)

	// Update persists the full row, guarded by the status the caller
	// read. Returns ErrStatusConflict when the stored status differs.
	Update(ctx context.Context, req *models.SettlementRequest, expectedStatus string) error

	// ClaimDispatchable atomically marks due PENDING requests as
	// claimed and returns them. A claimed request is invisible to other
	// claimers until released or requeued.
	ClaimDispatchable(ctx context.Context, now time.Time, limit int32) ([]models.SettlementRequest, error)

	// RequeueStaleClaims clears claims older than cutoff that never
	// recorded a dispatch, recovering work lost to a crashed worker.
	RequeueStaleClaims(ctx context.Context, cutoff time.Time) (int, error)

	// ListOverdueDispatched returns PENDING requests dispatched before
	// cutoff whose callback never arrived.
	ListOverdueDispatched(ctx context.Context, cutoff time.Time, limit int32) ([]models.SettlementRequest, error)

	// ListRetryable returns non-terminal FAILED and TIMEOUT requests
	// whose backoff delay has elapsed.
	ListRetryable(ctx context.Context, now time.Time, limit int32) ([]models.SettlementRequest, error)
}

package snapshot

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/paymentvault/wallet-service/internal/models"
)

// ErrNoSnapshot is returned when no observation exists for a partner
// and source.
var ErrNoSnapshot = errors.New("no balance snapshot")

// Store persists balance observations. Snapshots are append-only and
// immutable once written.
type Store interface {
	// Record appends an observation. The snapshot's ID and CapturedAt
	// are assigned by the store when unset.
	Record(ctx context.Context, snap models.BalanceSnapshot) (*models.BalanceSnapshot, error)

	// Latest returns the most recent snapshot for a partner from one
	// source, or ErrNoSnapshot.
	Latest(ctx context.Context, partnerID uuid.UUID, source string) (*models.BalanceSnapshot, error)
}

package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paymentvault/wallet-service/internal/models"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu    sync.Mutex
	snaps map[uuid.UUID][]models.BalanceSnapshot // by partner id, append order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[uuid.UUID][]models.BalanceSnapshot)}
}

func (s *MemoryStore) Record(_ context.Context, snap models.BalanceSnapshot) (*models.BalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now()
	}
	s.snaps[snap.PartnerID] = append(s.snaps[snap.PartnerID], snap)
	return &snap, nil
}

func (s *MemoryStore) Latest(_ context.Context, partnerID uuid.UUID, source string) (*models.BalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.BalanceSnapshot
	for i := range s.snaps[partnerID] {
		snap := s.snaps[partnerID][i]
		if snap.Source != source {
			continue
		}
		if latest == nil || snap.CapturedAt.After(latest.CapturedAt) {
			copied := snap
			latest = &copied
		}
	}
	if latest == nil {
		return nil, ErrNoSnapshot
	}
	return latest, nil
}

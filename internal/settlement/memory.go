package settlement

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paymentvault/wallet-service/internal/domain"
	"github.com/paymentvault/wallet-service/internal/models"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*models.SettlementRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[uuid.UUID]*models.SettlementRequest)}
}

func (s *MemoryStore) Create(_ context.Context, req models.SettlementRequest) (*models.SettlementRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := time.Now()
	req.CreatedAt = now
	req.UpdatedAt = now
	stored := req
	s.requests[req.ID] = &stored
	copied := stored
	return &copied, nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.SettlementRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	copied := *req
	return &copied, nil
}

func (s *MemoryStore) GetByCorrelationID(_ context.Context, correlationID string) (*models.SettlementRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.SettlementRequest
	for _, req := range s.requests {
		if req.CorrelationID != correlationID || correlationID == "" {
			continue
		}
		if latest == nil || req.UpdatedAt.After(latest.UpdatedAt) {
			latest = req
		}
	}
	if latest == nil {
		return nil, ErrRequestNotFound
	}
	copied := *latest
	return &copied, nil
}

func (s *MemoryStore) ListByPartner(_ context.Context, partnerID uuid.UUID, limit int32) ([]models.SettlementRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var out []models.SettlementRequest
	for _, req := range s.requests {
		if req.PartnerID == partnerID {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, req *models.SettlementRequest, expectedStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.requests[req.ID]
	if !ok {
		return ErrRequestNotFound
	}
	if stored.Status != expectedStatus {
		return ErrStatusConflict
	}
	req.CreatedAt = stored.CreatedAt
	req.UpdatedAt = time.Now()
	copied := *req
	s.requests[req.ID] = &copied
	return nil
}

func (s *MemoryStore) ClaimDispatchable(_ context.Context, now time.Time, limit int32) ([]models.SettlementRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.SettlementRequest
	for _, req := range s.requests {
		if req.Status != domain.SettlementStatusPending {
			continue
		}
		if req.ClaimedAt != nil || req.DispatchedAt != nil {
			continue
		}
		if req.NextRetryAt != nil && req.NextRetryAt.After(now) {
			continue
		}
		due = append(due, req)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if int32(len(due)) > limit {
		due = due[:limit]
	}

	out := make([]models.SettlementRequest, 0, len(due))
	for _, req := range due {
		claimed := now
		req.ClaimedAt = &claimed
		req.UpdatedAt = now
		out = append(out, *req)
	}
	return out, nil
}

func (s *MemoryStore) RequeueStaleClaims(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requeued := 0
	for _, req := range s.requests {
		if req.Status != domain.SettlementStatusPending || req.DispatchedAt != nil {
			continue
		}
		if req.ClaimedAt != nil && req.ClaimedAt.Before(cutoff) {
			req.ClaimedAt = nil
			req.UpdatedAt = time.Now()
			requeued++
		}
	}
	return requeued, nil
}

func (s *MemoryStore) ListOverdueDispatched(_ context.Context, cutoff time.Time, limit int32) ([]models.SettlementRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.SettlementRequest
	for _, req := range s.requests {
		if req.Status != domain.SettlementStatusPending || req.DispatchedAt == nil {
			continue
		}
		if req.DispatchedAt.Before(cutoff) {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DispatchedAt.Before(*out[j].DispatchedAt) })
	if int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListRetryable(_ context.Context, now time.Time, limit int32) ([]models.SettlementRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.SettlementRequest
	for _, req := range s.requests {
		if req.Status != domain.SettlementStatusFailed && req.Status != domain.SettlementStatusTimeout {
			continue
		}
		if req.RetryCount >= req.MaxRetries {
			continue
		}
		if req.NextRetryAt == nil || req.NextRetryAt.After(now) {
			continue
		}
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	if int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

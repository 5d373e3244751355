package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paymentvault/wallet-service/internal/domain"
	"github.com/paymentvault/wallet-service/internal/models"
)

// MemoryStore is an in-memory Store used by tests and local
// development. A single mutex serializes all mutations, which satisfies
// the per-wallet linearization requirement trivially.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.WalletAccount       // by partner id
	byRef    map[string]models.WalletTransaction      // wallet id + "/" + reference
	entries  map[uuid.UUID][]models.WalletTransaction // by wallet id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]*models.WalletAccount),
		byRef:    make(map[string]models.WalletTransaction),
		entries:  make(map[uuid.UUID][]models.WalletTransaction),
	}
}

func refKey(walletID uuid.UUID, reference string) string {
	return walletID.String() + "/" + reference
}

func (s *MemoryStore) Apply(_ context.Context, params ApplyParams) (*ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[params.PartnerID]
	if !ok {
		now := time.Now()
		account = &models.WalletAccount{
			ID:                       uuid.New(),
			PartnerID:                params.PartnerID,
			Currency:                 domain.DefaultCurrency,
			LowBalanceThresholdCents: domain.LowBalanceThresholdCents,
			CreatedAt:                now,
			UpdatedAt:                now,
		}
		s.accounts[params.PartnerID] = account
	}

	if existing, ok := s.byRef[refKey(account.ID, params.Reference)]; ok {
		return &ApplyResult{Account: *account, Transaction: existing, Duplicate: true}, nil
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
		CreatedAt:   time.Now(),
	}
	account.BalanceCents = newBalance
	account.UpdatedAt = entry.CreatedAt

	s.byRef[refKey(account.ID, params.Reference)] = entry
	s.entries[account.ID] = append(s.entries[account.ID], entry)

	return &ApplyResult{Account: *account, Transaction: entry}, nil
}

func (s *MemoryStore) AccountByPartner(_ context.Context, partnerID uuid.UUID) (*models.WalletAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[partnerID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	copied := *account
	return &copied, nil
}

func (s *MemoryStore) Transactions(_ context.Context, partnerID uuid.UUID, limit int32) ([]models.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	account, ok := s.accounts[partnerID]
	if !ok {
		return nil, nil
	}
	entries := append([]models.WalletTransaction(nil), s.entries[account.ID]...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if int32(len(entries)) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) SumTransactions(_ context.Context, walletID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum int64
	for _, entry := range s.entries[walletID] {
		sum += entry.AmountCents
	}
	return sum, nil
}

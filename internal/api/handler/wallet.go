package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paymentvault/wallet-service/internal/api/middleware"
	"github.com/paymentvault/wallet-service/internal/domain"
	"github.com/paymentvault/wallet-service/internal/reconcile"
	"github.com/paymentvault/wallet-service/internal/wallet"
)

// WalletHandler handles HTTP requests for wallet balances,
// transaction history, and manual adjustments.
type WalletHandler struct {
	ledger     *wallet.Ledger
	reconciler *reconcile.Reconciler
}

func NewWalletHandler(ledger *wallet.Ledger, reconciler *reconcile.Reconciler) *WalletHandler {
	return &WalletHandler{ledger: ledger, reconciler: reconciler}
}

// walletPartner resolves the {partnerID} path parameter and enforces
// ownership: partners may only read their own wallet.
func (h *WalletHandler) walletPartner(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	callerID, isAdmin, err := requestPartner(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return uuid.Nil, false
	}

	partnerID, err := uuid.Parse(chi.URLParam(r, "partnerID"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-partner-id", "Invalid partner ID")
		return uuid.Nil, false
	}
	if !isAdmin && partnerID != callerID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return uuid.Nil, false
	}
	return partnerID, true
}

// GetBalance handles GET /api/v1/wallets/{partnerID}/balance
// It returns the authoritative ledger balance alongside the best
// available provider-side reading.
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := h.walletPartner(w, r)
	if !ok {
		return
	}

	account, err := h.ledger.Balance(r.Context(), partnerID)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			RespondError(w, r, http.StatusNotFound, "wallet/not-found", "Wallet not found")
			return
		}
		zap.L().Error("get balance failed", zap.Error(err), zap.String("partner_id", partnerID.String()))
		RespondError(w, r, http.StatusInternalServerError, "wallet/balance-read-failed", "Failed to read balance")
		return
	}

	resp := map[string]any{
		"partner_id":    account.PartnerID,
		"balance_cents": account.BalanceCents,
		"currency":      account.Currency,
		"updated_at":    account.UpdatedAt,
	}

	reading, err := h.reconciler.CurrentBalance(r.Context(), partnerID)
	switch {
	case err == nil:
		resp["provider_balance"] = reading
	case errors.Is(err, reconcile.ErrNoBalanceData):
		// No observation yet; the ledger view stands alone.
	default:
		zap.L().Warn("provider balance reading failed", zap.Error(err), zap.String("partner_id", partnerID.String()))
	}

	RespondJSON(w, http.StatusOK, resp)
}

// GetTransactions handles GET /api/v1/wallets/{partnerID}/transactions
func (h *WalletHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := h.walletPartner(w, r)
	if !ok {
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	txs, err := h.ledger.Transactions(r.Context(), partnerID, limit)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			RespondError(w, r, http.StatusNotFound, "wallet/not-found", "Wallet not found")
			return
		}
		zap.L().Error("list transactions failed", zap.Error(err), zap.String("partner_id", partnerID.String()))
		RespondError(w, r, http.StatusInternalServerError, "wallet/transactions-read-failed", "Failed to list transactions")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"items": txs,
		"limit": limit,
		"count": len(txs),
	})
}

type balanceCheckRequest struct {
	UtilityBalanceCents int64 `json:"utility_balance_cents"`
	WorkingBalanceCents int64 `json:"working_balance_cents"`
	ChargesBalanceCents int64 `json:"charges_balance_cents"`
}

// RecordBalanceCheck handles POST /api/v1/wallets/{partnerID}/balance-checks
// Admin-only: records the result of an explicit provider-side balance
// check, which outranks callback-sourced observations.
func (h *WalletHandler) RecordBalanceCheck(w http.ResponseWriter, r *http.Request) {
	_, isAdmin, err := requestPartner(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	if !isAdmin {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "balance checks require the admin role")
		return
	}

	partnerID, err := uuid.Parse(chi.URLParam(r, "partnerID"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-partner-id", "Invalid partner ID")
		return
	}

	var req balanceCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	snap, err := h.reconciler.RecordExplicitCheck(r.Context(), partnerID, req.UtilityBalanceCents, req.WorkingBalanceCents, req.ChargesBalanceCents)
	if err != nil {
		zap.L().Error("record balance check failed", zap.Error(err), zap.String("partner_id", partnerID.String()))
		RespondError(w, r, http.StatusInternalServerError, "wallet/balance-check-failed", "Failed to record balance check")
		return
	}

	RespondJSON(w, http.StatusCreated, snap)
}

type adjustmentRequest struct {
	AmountCents   int64             `json:"amount_cents"`
	Reference     string            `json:"reference"`
	Reason        string            `json:"reason"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	AllowNegative bool              `json:"allow_negative"`
}

// CreateAdjustment handles POST /api/v1/wallets/{partnerID}/adjustments
// Admin-only manual corrections; the sign of amount_cents picks
// manual_credit or manual_debit.
func (h *WalletHandler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	_, isAdmin, err := requestPartner(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	if !isAdmin {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "adjustments require the admin role")
		return
	}

	partnerID, err := uuid.Parse(chi.URLParam(r, "partnerID"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-partner-id", "Invalid partner ID")
		return
	}

	var req adjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if req.AmountCents == 0 {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "Amount must be non-zero")
		return
	}
	if strings.TrimSpace(req.Reference) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-reference", "reference is required")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-reason", "reason is required")
		return
	}

	txType := domain.TxTypeManualCredit
	if req.AmountCents < 0 {
		txType = domain.TxTypeManualDebit
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["reason"] = req.Reason
	metadata["actor"] = middleware.PartnerIDFromContext(r.Context())

	result, err := h.ledger.Apply(r.Context(), wallet.ApplyInput{
		PartnerID:     partnerID,
		AmountCents:   req.AmountCents,
		Type:          txType,
		Reference:     req.Reference,
		Metadata:      metadata,
		AllowNegative: req.AllowNegative,
	})
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientBalance) {
			RespondError(w, r, http.StatusBadRequest, "wallet/insufficient-balance", "Adjustment would overdraw the wallet")
			return
		}
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("apply adjustment failed", zap.Error(err), zap.String("partner_id", partnerID.String()))
		RespondError(w, r, http.StatusInternalServerError, "wallet/adjustment-failed", "Failed to apply adjustment")
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	RespondJSON(w, status, result)
}

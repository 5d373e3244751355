package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paymentvault/wallet-service/internal/domain"
	"github.com/paymentvault/wallet-service/internal/settlement"
)

// SettlementHandler handles HTTP requests for settlement requests.
type SettlementHandler struct {
	tracker *settlement.Tracker
}

func NewSettlementHandler(tracker *settlement.Tracker) *SettlementHandler {
	return &SettlementHandler{tracker: tracker}
}

// CreateSettlementRequest represents the request body for creating a
// settlement request.
type CreateSettlementRequest struct {
	Kind         string `json:"kind"`
	AmountCents  int64  `json:"amount_cents"`
	Target       string `json:"target"`
	OTPReference string `json:"otp_reference,omitempty"`
}

// CreateSettlement handles POST /api/v1/settlements
// It queues a settlement request and returns 202 Accepted.
func (h *SettlementHandler) CreateSettlement(w http.ResponseWriter, r *http.Request) {
	partnerID, _, err := requestPartner(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req CreateSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	req.Kind = strings.TrimSpace(strings.ToLower(req.Kind))
	if !domain.ValidSettlementKind(req.Kind) {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-kind", "unknown settlement kind")
		return
	}
	if req.AmountCents <= 0 {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "Amount must be greater than zero")
		return
	}
	if strings.TrimSpace(req.Target) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-target", "target is required")
		return
	}

	created, err := h.tracker.RequestSettlement(r.Context(), settlement.RequestInput{
		PartnerID:    partnerID,
		Kind:         req.Kind,
		AmountCents:  req.AmountCents,
		Target:       req.Target,
		OTPReference: req.OTPReference,
	})
	if err != nil {
		if errors.Is(err, settlement.ErrOTPRequired) {
			RespondError(w, r, http.StatusForbidden, "settlement/otp-required", err.Error())
			return
		}
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		if strings.Contains(err.Error(), "otp authorization failed") {
			RespondError(w, r, http.StatusForbidden, "settlement/otp-rejected", err.Error())
			return
		}
		zap.L().Error("create settlement failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "settlement/create-failed", "Failed to create settlement request")
		return
	}

	RespondJSON(w, http.StatusAccepted, created)
}

// GetSettlement handles GET /api/v1/settlements/{id}
// It returns the current status of a settlement request.
func (h *SettlementHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	partnerID, isAdmin, err := requestPartner(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	requestID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-settlement-id", "Invalid settlement request ID")
		return
	}

	req, err := h.tracker.Get(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, settlement.ErrRequestNotFound) {
			RespondError(w, r, http.StatusNotFound, "settlement/not-found", "Settlement request not found")
			return
		}
		zap.L().Error("get settlement failed", zap.Error(err), zap.String("request_id", requestID.String()))
		RespondError(w, r, http.StatusInternalServerError, "settlement/read-failed", "Failed to get settlement request")
		return
	}
	if !isAdmin && req.PartnerID != partnerID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	RespondJSON(w, http.StatusOK, req)
}

// ListSettlements handles GET /api/v1/settlements
// It returns the caller's recent settlement requests.
func (h *SettlementHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	partnerID, _, err := requestPartner(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	items, err := h.tracker.ListByPartner(r.Context(), partnerID, limit)
	if err != nil {
		zap.L().Error("list settlements failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "settlement/list-failed", "Failed to list settlement requests")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"limit": limit,
		"count": len(items),
	})
}

type retrySettlementRequest struct {
	Force bool `json:"force"`
}

// RetrySettlement handles POST /api/v1/settlements/{id}/retry
// Force retries bypass the retry budget and require the admin role.
func (h *SettlementHandler) RetrySettlement(w http.ResponseWriter, r *http.Request) {
	partnerID, isAdmin, err := requestPartner(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	requestID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-settlement-id", "Invalid settlement request ID")
		return
	}

	var req retrySettlementRequest
	if r.Body != nil {
		// An empty body means a plain retry.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Force && !isAdmin {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "force retry requires the admin role")
		return
	}

	existing, err := h.tracker.Get(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, settlement.ErrRequestNotFound) {
			RespondError(w, r, http.StatusNotFound, "settlement/not-found", "Settlement request not found")
			return
		}
		zap.L().Error("get settlement failed", zap.Error(err), zap.String("request_id", requestID.String()))
		RespondError(w, r, http.StatusInternalServerError, "settlement/read-failed", "Failed to get settlement request")
		return
	}
	if !isAdmin && existing.PartnerID != partnerID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	retried, err := h.tracker.Retry(r.Context(), requestID, req.Force)
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrNotRetryable):
			RespondError(w, r, http.StatusConflict, "settlement/not-retryable", "Settlement request is not in a retryable state")
			return
		case errors.Is(err, settlement.ErrRetryExhausted):
			RespondError(w, r, http.StatusConflict, "settlement/retry-exhausted", "Settlement request has exhausted its retries")
			return
		default:
			zap.L().Error("retry settlement failed", zap.Error(err), zap.String("request_id", requestID.String()))
			RespondError(w, r, http.StatusInternalServerError, "settlement/retry-failed", "Failed to retry settlement request")
			return
		}
	}

	RespondJSON(w, http.StatusOK, retried)
}

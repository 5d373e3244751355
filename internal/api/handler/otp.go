package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paymentvault/wallet-service/internal/otp"
)

// OTPHandler handles challenge issuance and validation for sensitive
// settlement kinds.
type OTPHandler struct {
	otpSvc *otp.Service
}

func NewOTPHandler(otpSvc *otp.Service) *OTPHandler {
	return &OTPHandler{otpSvc: otpSvc}
}

type issueOTPRequest struct {
	UserID      string `json:"user_id"`
	Purpose     string `json:"purpose"`
	AmountCents int64  `json:"amount_cents"`
}

// IssueOTP handles POST /api/v1/otp
// It creates a challenge bound to the partner, user, and amount.
func (h *OTPHandler) IssueOTP(w http.ResponseWriter, r *http.Request) {
	partnerID, _, err := requestPartner(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req issueOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	userID, err := uuid.Parse(strings.TrimSpace(req.UserID))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-user-id", "Invalid user_id")
		return
	}
	if req.AmountCents <= 0 {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "Amount must be greater than zero")
		return
	}

	challenge, err := h.otpSvc.Issue(r.Context(), otp.IssueInput{
		UserID:      userID,
		PartnerID:   partnerID,
		Purpose:     strings.TrimSpace(req.Purpose),
		AmountCents: req.AmountCents,
	})
	if err != nil {
		zap.L().Error("issue otp failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "otp/issue-failed", "Failed to issue challenge")
		return
	}

	RespondJSON(w, http.StatusCreated, challenge)
}

type validateOTPRequest struct {
	Reference string `json:"reference"`
	Code      string `json:"code"`
}

// ValidateOTP handles POST /api/v1/otp/validate
func (h *OTPHandler) ValidateOTP(w http.ResponseWriter, r *http.Request) {
	if _, _, err := requestPartner(r); err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req validateOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if req.Reference == "" || req.Code == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-fields", "reference and code are required")
		return
	}

	if err := h.otpSvc.Validate(r.Context(), req.Reference, req.Code); err != nil {
		switch {
		case errors.Is(err, otp.ErrRequestNotFound):
			RespondError(w, r, http.StatusNotFound, "otp/not-found", "Challenge not found")
			return
		case errors.Is(err, otp.ErrInvalidOTP):
			RespondError(w, r, http.StatusUnauthorized, "otp/invalid-code", "Invalid code")
			return
		case errors.Is(err, otp.ErrOTPExpired):
			RespondError(w, r, http.StatusGone, "otp/expired", "Challenge expired")
			return
		case errors.Is(err, otp.ErrMaxAttemptsExceeded):
			RespondError(w, r, http.StatusTooManyRequests, "otp/max-attempts", "Too many attempts")
			return
		case errors.Is(err, otp.ErrChallengeUsed):
			RespondError(w, r, http.StatusConflict, "otp/already-used", "Challenge already used")
			return
		default:
			zap.L().Error("validate otp failed", zap.Error(err), zap.String("reference", req.Reference))
			RespondError(w, r, http.StatusInternalServerError, "otp/validate-failed", "Failed to validate challenge")
			return
		}
	}

	RespondJSON(w, http.StatusOK, map[string]string{"status": "validated"})
}

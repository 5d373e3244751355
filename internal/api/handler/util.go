package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/paymentvault/wallet-service/internal/api/middleware"
	"github.com/paymentvault/wallet-service/internal/api/problem"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// requestPartner returns the authenticated partner id and whether the
// caller carries the admin role.
func requestPartner(r *http.Request) (uuid.UUID, bool, error) {
	raw := middleware.PartnerIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, false, errors.New("missing partner in auth context")
	}

	partnerID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid partner_id in auth context")
	}

	return partnerID, middleware.PartnerRoleFromContext(r.Context()) == "admin", nil
}

// parseLimit clamps a limit query parameter into a sane window.
func parseLimit(raw string) int32 {
	limit := 50
	if v := strings.TrimSpace(raw); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	return int32(limit)
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}

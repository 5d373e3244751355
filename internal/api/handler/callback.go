package handler

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/paymentvault/wallet-service/internal/ingest"
	"github.com/paymentvault/wallet-service/internal/settlement"
)

// CallbackHandler receives asynchronous result and timeout callbacks
// from the settlement provider.
type CallbackHandler struct {
	ingestor *ingest.Ingestor
}

func NewCallbackHandler(ingestor *ingest.Ingestor) *CallbackHandler {
	return &CallbackHandler{ingestor: ingestor}
}

// HandleResult handles POST /callbacks/settlement
func (h *CallbackHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		zap.L().Error("read callback body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	req, err := h.ingestor.IngestResult(r.Context(), body)
	if err != nil {
		h.respondIngestError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"status":     "accepted",
		"request_id": req.ID.String(),
	})
}

// HandleTimeout handles POST /callbacks/settlement/timeout
func (h *CallbackHandler) HandleTimeout(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		zap.L().Error("read callback body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	req, err := h.ingestor.IngestTimeout(r.Context(), body)
	if err != nil {
		h.respondIngestError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"status":     "accepted",
		"request_id": req.ID.String(),
	})
}

func (h *CallbackHandler) respondIngestError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ingest.ErrUnrecognizedPayload):
		RespondError(w, r, http.StatusBadRequest, "callback/unrecognized-payload", "Unrecognized callback payload")
	case errors.Is(err, settlement.ErrRequestNotFound):
		RespondError(w, r, http.StatusNotFound, "callback/unmatched", "No settlement request matches this callback")
	default:
		zap.L().Error("process callback failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "callback/process-failed", "Failed to process callback")
	}
}

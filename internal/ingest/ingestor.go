package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/paymentvault/wallet-service/internal/domain"
	"github.com/paymentvault/wallet-service/internal/models"
	"github.com/paymentvault/wallet-service/internal/observability"
	"github.com/paymentvault/wallet-service/internal/settlement"
	"github.com/paymentvault/wallet-service/internal/snapshot"
)

// Ingestor normalizes inbound provider callbacks into settlement
// transitions and balance snapshots. It is the only component that
// touches raw provider payloads.
type Ingestor struct {
	tracker   *settlement.Tracker
	snapshots snapshot.Store
}

func NewIngestor(tracker *settlement.Tracker, snapshots snapshot.Store) *Ingestor {
	return &Ingestor{tracker: tracker, snapshots: snapshots}
}

// IngestResult processes a provider result callback. Balance figures
// are captured as a settlement_callback snapshot whenever present,
// success or failure; the settlement transition (and any ledger
// mutation) is delegated to the tracker.
func (i *Ingestor) IngestResult(ctx context.Context, payload []byte) (*models.SettlementRequest, error) {
	result, err := ParseResultCallback(payload)
	if err != nil {
		observability.IncrementCallback("unrecognized")
		return nil, err
	}

	req, err := i.tracker.GetByCorrelationID(ctx, result.CorrelationID)
	if err != nil {
		observability.IncrementCallback("unmatched")
		return nil, err
	}

	if req.Terminal() || req.Status != domain.SettlementStatusPending {
		observability.IncrementCallback("duplicate")
		zap.L().Info("callback for settled request acknowledged without writes",
			zap.String("request_id", req.ID.String()),
			zap.String("correlation_id", result.CorrelationID),
		)
		return req, nil
	}

	i.recordSnapshot(ctx, req, result)

	settled, err := i.tracker.HandleResult(ctx, settlement.Outcome{
		CorrelationID:       result.CorrelationID,
		Success:             result.Success,
		ResultCode:          result.ResultCode,
		ResultDescription:   result.ResultDescription,
		UtilityBalanceCents: result.UtilityBalanceCents,
		WorkingBalanceCents: result.WorkingBalanceCents,
		ChargesBalanceCents: result.ChargesBalanceCents,
	})
	if err != nil {
		observability.IncrementCallback("error")
		return nil, err
	}
	observability.IncrementCallback("processed")
	return settled, nil
}

// IngestTimeout processes the provider's queue-timeout callback, which
// shares the result envelope but carries no outcome.
func (i *Ingestor) IngestTimeout(ctx context.Context, payload []byte) (*models.SettlementRequest, error) {
	result, err := ParseResultCallback(payload)
	if err != nil {
		observability.IncrementCallback("unrecognized")
		return nil, err
	}

	req, err := i.tracker.HandleTimeout(ctx, result.CorrelationID)
	if err != nil {
		observability.IncrementCallback("error")
		return nil, err
	}
	observability.IncrementCallback("timeout")
	return req, nil
}

func (i *Ingestor) recordSnapshot(ctx context.Context, req *models.SettlementRequest, result *CallbackResult) {
	if !result.HasBalances() {
		return
	}
	snap := models.BalanceSnapshot{
		PartnerID: req.PartnerID,
		Source:    domain.SnapshotSourceSettlementCallback,
	}
	if result.UtilityBalanceCents != nil {
		snap.UtilityBalanceCents = *result.UtilityBalanceCents
	}
	if result.WorkingBalanceCents != nil {
		snap.WorkingBalanceCents = *result.WorkingBalanceCents
	}
	if result.ChargesBalanceCents != nil {
		snap.ChargesBalanceCents = *result.ChargesBalanceCents
	}
	if _, err := i.snapshots.Record(ctx, snap); err != nil {
		// The snapshot is an observation, not the outcome; losing one
		// must not block the settlement transition.
		zap.L().Warn("record callback balance snapshot failed",
			zap.Error(err),
			zap.String("request_id", req.ID.String()),
		)
	}
}

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paymentvault/wallet-service/internal/domain"
	"github.com/paymentvault/wallet-service/internal/models"
	"github.com/paymentvault/wallet-service/internal/snapshot"
)

// ErrNoBalanceData means no snapshot from any source exists for the
// partner. Callers must surface this rather than assume zero.
var ErrNoBalanceData = errors.New("no balance data for partner")

// Reading is the reconciler's answer to "what is the provider-side
// balance right now, and how much should I trust it".
type Reading struct {
	UtilityCents int64     `json:"utility_cents"`
	WorkingCents int64     `json:"working_cents"`
	ChargesCents int64     `json:"charges_cents"`
	Source       string    `json:"source"`
	Freshness    string    `json:"freshness"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Reconciler ranks balance observations across sources. It is
// read-only: it never gates ledger debits, which check the
// authoritative wallet balance instead.
type Reconciler struct {
	snapshots snapshot.Store
	now       func() time.Time
}

func New(snapshots snapshot.Store) *Reconciler {
	return &Reconciler{snapshots: snapshots, now: time.Now}
}

// CurrentBalance returns the highest-priority recent observation.
// An explicit check always outranks a settlement callback, regardless
// of which was captured later.
func (r *Reconciler) CurrentBalance(ctx context.Context, partnerID uuid.UUID) (*Reading, error) {
	snap, err := r.snapshots.Latest(ctx, partnerID, domain.SnapshotSourceExplicitCheck)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		snap, err = r.snapshots.Latest(ctx, partnerID, domain.SnapshotSourceSettlementCallback)
		if errors.Is(err, snapshot.ErrNoSnapshot) {
			return nil, ErrNoBalanceData
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load balance snapshot: %w", err)
	}

	return &Reading{
		UtilityCents: snap.UtilityBalanceCents,
		WorkingCents: snap.WorkingBalanceCents,
		ChargesCents: snap.ChargesBalanceCents,
		Source:       snap.Source,
		Freshness:    r.freshness(snap.CapturedAt),
		CapturedAt:   snap.CapturedAt,
	}, nil
}

// RecordExplicitCheck stores an operator-triggered balance observation.
func (r *Reconciler) RecordExplicitCheck(ctx context.Context, partnerID uuid.UUID, utilityCents, workingCents, chargesCents int64) (*models.BalanceSnapshot, error) {
	return r.snapshots.Record(ctx, models.BalanceSnapshot{
		PartnerID:           partnerID,
		Source:              domain.SnapshotSourceExplicitCheck,
		UtilityBalanceCents: utilityCents,
		WorkingBalanceCents: workingCents,
		ChargesBalanceCents: chargesCents,
	})
}

func (r *Reconciler) freshness(capturedAt time.Time) string {
	age := r.now().Sub(capturedAt)
	switch {
	case age < domain.FreshWindow:
		return domain.FreshnessFresh
	case age < domain.RecentWindow:
		return domain.FreshnessRecent
	default:
		return domain.FreshnessStale
	}
}

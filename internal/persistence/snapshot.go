package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/sumit-mahajan/refi/internal/observability"
	"github.com/sumit-mahajan/refi/internal/reserve"

	"github.com/rs/zerolog"
)

// SnapshotSource is the read surface the recorder polls. The pool satisfies
// it.
type SnapshotSource interface {
	Assets() []string
	ReserveSnapshot(asset string) (*reserve.Snapshot, error)
}

// SnapshotRecorder periodically captures every reserve's indices, rates and
// scaled totals into refi.reserve_snapshots. Snapshots are observability
// data; the operation log remains the source of truth.
type SnapshotRecorder struct {
	writer   *OperationWriter
	source   SnapshotSource
	interval time.Duration
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewSnapshotRecorder(
	db *sql.DB,
	source SnapshotSource,
	interval time.Duration,
	metrics *observability.Metrics,
) *SnapshotRecorder {
	return &SnapshotRecorder{
		writer:   NewOperationWriter(db),
		source:   source,
		interval: interval,
		metrics:  metrics,
		log:      observability.NewLogger("snapshots"),
	}
}

// Run captures a snapshot batch every interval until ctx is cancelled.
func (sr *SnapshotRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(sr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := sr.capture(ctx); err != nil {
				sr.log.Warn().Err(err).Msg("snapshot capture failed")
			}
		}
	}
}

func (sr *SnapshotRecorder) capture(ctx context.Context) error {
	rows := make([]SnapshotRow, 0, len(sr.source.Assets()))
	for _, asset := range sr.source.Assets() {
		snap, err := sr.source.ReserveSnapshot(asset)
		if err != nil {
			// the reserve may have been deactivated between listing and read
			sr.log.Warn().Err(err).Str("asset", asset).Msg("skipping reserve")
			continue
		}
		rows = append(rows, SnapshotRow{
			Asset:               asset,
			LiquidityIndex:      snap.LiquidityIndex.Dec(),
			VariableBorrowIndex: snap.VariableBorrowIndex.Dec(),
			LiquidityRate:       snap.CurrentLiquidityRate.Dec(),
			VariableBorrowRate:  snap.CurrentVariableBorrowRate.Dec(),
			TotalScaledDeposit:  snap.TotalScaledDeposit.Dec(),
			TotalScaledDebt:     snap.TotalScaledDebt.Dec(),
			Timestamp:           snap.LastUpdateTimestamp,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	if err := sr.writer.WriteSnapshotBatch(ctx, sr.writer.db, rows); err != nil {
		if sr.metrics != nil {
			sr.metrics.PersistErrors.WithLabelValues("write_snapshots").Inc()
		}
		return err
	}
	if sr.metrics != nil {
		sr.metrics.PersistSnapshotsWritten.Add(float64(len(rows)))
	}
	return nil
}

package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sumit-mahajan/refi/internal/event"

	"github.com/google/uuid"
)

// execer is satisfied by both *sql.DB and *sql.Tx so batch writes can run
// inside the worker's flush transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// OperationWriter writes the operation log and reserve snapshots to Postgres
// using multi-row INSERT. Conflicts are ignored so replayed envelopes after a
// restart are harmless.
type OperationWriter struct {
	db *sql.DB
}

// OperationRow represents a row in refi.operations.
type OperationRow struct {
	Sequence      int64
	OperationID   uuid.UUID
	OperationType string
	Asset         string
	UserID        uuid.UUID
	Payload       []byte
	Timestamp     int64
}

// SnapshotRow represents a row in refi.reserve_snapshots. Fixed-point values
// are stored as decimal strings to keep the full 256-bit precision.
type SnapshotRow struct {
	Asset               string
	LiquidityIndex      string
	VariableBorrowIndex string
	LiquidityRate       string
	VariableBorrowRate  string
	TotalScaledDeposit  string
	TotalScaledDebt     string
	Timestamp           int64
}

// RowFromEnvelope converts a committed envelope into its log row.
func RowFromEnvelope(env event.Envelope) OperationRow {
	return OperationRow{
		Sequence:      env.Sequence,
		OperationID:   env.OperationID,
		OperationType: env.OperationType.String(),
		Asset:         env.Asset,
		UserID:        env.User,
		Payload:       env.Payload,
		Timestamp:     env.Timestamp,
	}
}

func NewOperationWriter(db *sql.DB) *OperationWriter {
	return &OperationWriter{db: db}
}

// WriteOperationBatch writes a batch of operations to refi.operations.
func (w *OperationWriter) WriteOperationBatch(ctx context.Context, ex execer, ops []OperationRow) error {
	if len(ops) == 0 {
		return nil
	}

	query := `INSERT INTO refi.operations
		(sequence, operation_id, operation_type, asset, user_id, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(ops))
	args := make([]interface{}, 0, len(ops)*7)

	for i, o := range ops {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			o.Sequence, o.OperationID, o.OperationType, o.Asset,
			o.UserID, o.Payload, o.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteSnapshotBatch writes a batch of reserve snapshots to refi.reserve_snapshots.
func (w *OperationWriter) WriteSnapshotBatch(ctx context.Context, ex execer, snaps []SnapshotRow) error {
	if len(snaps) == 0 {
		return nil
	}

	query := `INSERT INTO refi.reserve_snapshots
		(asset, liquidity_index, variable_borrow_index, liquidity_rate, variable_borrow_rate,
		 total_scaled_deposit, total_scaled_debt, timestamp)
		VALUES `

	values := make([]string, 0, len(snaps))
	args := make([]interface{}, 0, len(snaps)*8)

	for i, s := range snaps {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			s.Asset, s.LiquidityIndex, s.VariableBorrowIndex, s.LiquidityRate,
			s.VariableBorrowRate, s.TotalScaledDeposit, s.TotalScaledDebt, s.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (asset, timestamp) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// LatestSequence returns the highest sequence in the operation log,
// or -1 when the log is empty. The pool resumes at LatestSequence+1.
func (w *OperationWriter) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM refi.operations`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// LoadOperationsFrom loads operations from a given sequence in log order.
func (w *OperationWriter) LoadOperationsFrom(ctx context.Context, fromSequence int64, limit int) ([]OperationRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, operation_id, operation_type, asset, user_id, payload, timestamp
		FROM refi.operations
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []OperationRow
	for rows.Next() {
		var o OperationRow
		if err := rows.Scan(
			&o.Sequence, &o.OperationID, &o.OperationType, &o.Asset,
			&o.UserID, &o.Payload, &o.Timestamp,
		); err != nil {
			return nil, err
		}
		ops = append(ops, o)
	}

	return ops, rows.Err()
}

// Package telemetry reads rolling sensor windows and shapes them for the
// inference service.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"fleetwatch/internal/domain"
)

// RowSource is the slice of the store the reader needs.
type RowSource interface {
	TelemetryUpTo(vehicleID string, maxRowIndex int) ([]domain.TelemetryRow, error)
}

// Reader returns ordered telemetry prefixes in the canonical shape the
// inference service expects. Reads are idempotent and side-effect-free.
type Reader struct {
	src RowSource
}

// NewReader wraps a row source.
func NewReader(src RowSource) *Reader {
	return &Reader{src: src}
}

// RowsUpTo returns the vehicle's rows with rowIndex in [0, maxRowIndex],
// ascending. An empty result is a normal outcome, not an error.
func (r *Reader) RowsUpTo(ctx context.Context, vehicleID string, maxRowIndex int) ([]domain.TelemetryRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := r.src.TelemetryUpTo(vehicleID, maxRowIndex)
	if err != nil {
		return nil, fmt.Errorf("read telemetry window %s up to %d: %w", vehicleID, maxRowIndex, err)
	}
	return rows, nil
}

// CanonicalRows flattens telemetry rows into the wire shape: one record per
// row with "<subsystem>.<channel>" keys, plus vehicle_id and timestamp_utc
// (ISO 8601 UTC). Numeric types are preserved as float64.
func CanonicalRows(rows []domain.TelemetryRow) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		rec := make(map[string]any, len(row.Sensors)+2)
		rec["vehicle_id"] = row.VehicleID
		rec["timestamp_utc"] = row.Timestamp.UTC().Format(time.RFC3339)
		for k, v := range row.Sensors {
			rec[k] = v
		}
		out[i] = rec
	}
	return out
}

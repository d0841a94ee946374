package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ImportMetrics records import lifecycle counters. A nil *ImportMetrics is a
// valid no-op.
type ImportMetrics struct {
	transitions    metric.Int64Counter
	reaped         metric.Int64Counter
	reconciledRows metric.Int64Counter
}

func NewImportMetrics(meter metric.Meter) (*ImportMetrics, error) {
	transitions, err := meter.Int64Counter("imports.transitions",
		metric.WithDescription("Applied import status transitions"))
	if err != nil {
		return nil, fmt.Errorf("imports.transitions: %w", err)
	}
	reaped, err := meter.Int64Counter("imports.reaped",
		metric.WithDescription("Processing imports marked stuck by the sweep"))
	if err != nil {
		return nil, fmt.Errorf("imports.reaped: %w", err)
	}
	rows, err := meter.Int64Counter("imports.reconciled_rows",
		metric.WithDescription("Rows drained from the counter store into durable records"),
		metric.WithUnit("{row}"))
	if err != nil {
		return nil, fmt.Errorf("imports.reconciled_rows: %w", err)
	}
	return &ImportMetrics{transitions: transitions, reaped: reaped, reconciledRows: rows}, nil
}

func (m *ImportMetrics) Transition(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *ImportMetrics) Reaped(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reaped.Add(ctx, int64(n))
}

func (m *ImportMetrics) ReconciledRows(ctx context.Context, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.reconciledRows.Add(ctx, n)
}

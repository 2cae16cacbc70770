package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all toolrelay metrics instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	RequestDuration  metric.Float64Histogram
	DispatchDuration metric.Float64Histogram
	DispatchOutcomes metric.Int64Counter
	ApprovalOutcomes metric.Int64Counter
	Pickups          metric.Int64Counter
	TableEntries     metric.Int64ObservableGauge
}

// TableSizer reports the current size of each in-memory table, keyed by
// table name.
type TableSizer func() map[string]int64

// NewMetrics creates all metric instruments from the given meter. sizes may
// be nil, in which case the table gauge reports nothing.
func NewMetrics(meter metric.Meter, sizes TableSizer) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("toolrelay.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.DispatchDuration, err = meter.Float64Histogram("toolrelay.dispatch.duration",
		metric.WithDescription("Time from dispatch to result in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.DispatchOutcomes, err = meter.Int64Counter("toolrelay.dispatch.outcomes",
		metric.WithDescription("Dispatches by tool and outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.ApprovalOutcomes, err = meter.Int64Counter("toolrelay.approval.outcomes",
		metric.WithDescription("Approval decisions by tool and outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.Pickups, err = meter.Int64Counter("toolrelay.pickups",
		metric.WithDescription("Agent pickups, split by whether a command was delivered"),
	)
	if err != nil {
		return nil, err
	}

	m.TableEntries, err = meter.Int64ObservableGauge("toolrelay.table.entries",
		metric.WithDescription("Entries held in each in-memory table"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			if sizes == nil {
				return nil
			}
			for table, n := range sizes() {
				o.Observe(n, metric.WithAttributes(AttrTable.String(table)))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordDispatch(ctx context.Context, tool, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrToolName.String(tool), AttrOutcome.String(outcome))
	m.DispatchDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.DispatchOutcomes.Add(ctx, 1, attrs)
}

func (m *Metrics) RecordPickup(ctx context.Context, delivered bool) {
	if m == nil {
		return
	}
	m.Pickups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("delivered", delivered)))
}

func (m *Metrics) RecordApproval(ctx context.Context, tool, outcome string) {
	if m == nil {
		return
	}
	m.ApprovalOutcomes.Add(ctx, 1, metric.WithAttributes(AttrToolName.String(tool), AttrOutcome.String(outcome)))
}

// RecordRequest observes one gateway request.
func (m *Metrics) RecordRequest(ctx context.Context, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		AttrRoute.String(route),
		AttrStatus.Int(status),
	))
}

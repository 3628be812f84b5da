package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the clone lifecycle metric instruments.
type Metrics struct {
	TasksAdmitted    metric.Int64Counter
	Transitions      metric.Int64Counter
	TerminalOutcomes metric.Int64Counter
	ActiveTasks      metric.Int64UpDownCounter
	MergeDuration    metric.Float64Histogram
	IndexDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TasksAdmitted, err = meter.Int64Counter("seafile.clone.admitted",
		metric.WithDescription("Clone tasks admitted"),
	)
	if err != nil {
		return nil, err
	}

	m.Transitions, err = meter.Int64Counter("seafile.clone.transitions",
		metric.WithDescription("Clone task state transitions"),
	)
	if err != nil {
		return nil, err
	}

	m.TerminalOutcomes, err = meter.Int64Counter("seafile.clone.terminal",
		metric.WithDescription("Clone tasks reaching a terminal state"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveTasks, err = meter.Int64UpDownCounter("seafile.clone.active",
		metric.WithDescription("Clone tasks currently in a non-terminal state"),
	)
	if err != nil {
		return nil, err
	}

	m.MergeDuration, err = meter.Float64Histogram("seafile.clone.merge.duration",
		metric.WithDescription("Merge job duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.IndexDuration, err = meter.Float64Histogram("seafile.clone.index.duration",
		metric.WithDescription("Worktree index job duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

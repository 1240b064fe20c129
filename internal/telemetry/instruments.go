package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments are the counters and histograms the run client records.
// A nil *Instruments is valid and records nothing.
type Instruments struct {
	pollCount   metric.Int64Counter
	pollWait    metric.Float64Histogram
	invokeCount metric.Int64Counter
}

// NewInstruments registers the client instruments on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	pollCount, err := meter.Int64Counter("workbench.poll.count",
		metric.WithDescription("Run status fetches, by observed state"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create poll counter: %w", err)
	}
	pollWait, err := meter.Float64Histogram("workbench.poll.wait",
		metric.WithDescription("Wall-clock duration of a completion wait, by outcome"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create wait histogram: %w", err)
	}
	invokeCount, err := meter.Int64Counter("workbench.invoke.count",
		metric.WithDescription("Invocations issued, by action and result"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create invoke counter: %w", err)
	}
	return &Instruments{pollCount: pollCount, pollWait: pollWait, invokeCount: invokeCount}, nil
}

// RecordPoll counts one status observation.
func (i *Instruments) RecordPoll(ctx context.Context, state string) {
	if i == nil {
		return
	}
	i.pollCount.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordWait records how long a completion wait took and how it ended
// ("terminal", "timed_out" or "error").
func (i *Instruments) RecordWait(ctx context.Context, elapsed time.Duration, outcome string) {
	if i == nil {
		return
	}
	i.pollWait.Record(ctx, float64(elapsed.Milliseconds()),
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordInvoke counts one invocation attempt.
func (i *Instruments) RecordInvoke(ctx context.Context, actionID, result string) {
	if i == nil {
		return
	}
	i.invokeCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action_id", actionID),
		attribute.String("result", result),
	))
}

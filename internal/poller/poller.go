// Package poller waits for a run to reach a terminal state.
//
// A wait ends in exactly one of three ways: a terminal status, a timeout, or
// an error. A timeout is a result, not an error: the run may still succeed
// and the caller is expected to switch to background observation. Status
// fetch failures end the wait immediately and are never swallowed.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/telemetry"
)

var tracer = telemetry.Tracer("workbench/poller")

// StatusFetcher reads the current status of a run.
type StatusFetcher interface {
	Status(ctx context.Context, runID int64) (model.RunStatus, error)
}

// Result is the outcome of a wait. When TimedOut is true, Status holds the
// last non-terminal observation.
type Result struct {
	Status   model.RunStatus
	TimedOut bool
	Polls    int
	Elapsed  time.Duration
}

// Poller is stateless between calls and safe for concurrent use, including
// several observers of the same run.
type Poller struct {
	fetcher StatusFetcher
	backoff Backoff
	logger  *slog.Logger
	metrics *telemetry.Instruments
	now     func() time.Time
}

// Option configures a Poller.
type Option func(*Poller)

// WithBackoff overrides the default polling interval.
func WithBackoff(b Backoff) Option {
	return func(p *Poller) { p.backoff = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics records poll counts and wait durations.
func WithMetrics(m *telemetry.Instruments) Option {
	return func(p *Poller) { p.metrics = m }
}

// New creates a Poller.
func New(fetcher StatusFetcher, opts ...Option) *Poller {
	p := &Poller{
		fetcher: fetcher,
		backoff: DefaultBackoff(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait polls runID until it is terminal or timeout has elapsed since the
// call began. Sleeps are clipped to the remaining budget and one last status
// is read at the deadline, so a run that finishes in time is never reported as
// timed out.
//
// Cancelling ctx abandons the observation only; the run keeps going.
func (p *Poller) Wait(ctx context.Context, runID int64, timeout time.Duration) (Result, error) {
	ctx, span := tracer.Start(ctx, "poller.Wait", trace.WithAttributes(
		attribute.Int64("workbench.run_id", runID),
		attribute.Int64("workbench.timeout_ms", timeout.Milliseconds()),
	))
	defer span.End()

	start := p.now()
	interval := p.backoff.First()
	var res Result

	for {
		status, err := p.fetcher.Status(ctx, runID)
		res.Elapsed = p.now().Sub(start)
		if err != nil {
			p.metrics.RecordWait(ctx, res.Elapsed, "error")
			span.RecordError(err)
			span.SetStatus(codes.Error, "status fetch failed")
			return res, fmt.Errorf("poller: run %d: %w", runID, err)
		}
		res.Polls++
		res.Status = status
		p.metrics.RecordPoll(ctx, string(status.State))

		if status.State.IsTerminal() {
			p.metrics.RecordWait(ctx, res.Elapsed, "terminal")
			span.SetAttributes(attribute.String("workbench.run_state", string(status.State)))
			p.logger.Debug("poller: run terminal",
				"run_id", runID, "state", status.State, "polls", res.Polls, "elapsed", res.Elapsed)
			return res, nil
		}

		remaining := timeout - res.Elapsed
		if remaining <= 0 {
			res.TimedOut = true
			p.metrics.RecordWait(ctx, res.Elapsed, "timed_out")
			span.SetAttributes(attribute.Bool("workbench.timed_out", true))
			p.logger.Info("poller: wait timed out, run still in progress",
				"run_id", runID, "state", status.State, "polls", res.Polls, "elapsed", res.Elapsed)
			return res, nil
		}

		if err := sleep(ctx, min(interval, remaining)); err != nil {
			res.Elapsed = p.now().Sub(start)
			return res, fmt.Errorf("poller: run %d: %w", runID, err)
		}
		interval = p.backoff.Next(interval)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

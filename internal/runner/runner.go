// Package runner composes the invoke → poll → fetch artifacts → interpret
// pipeline for one invocation. The steps are strictly sequential: each needs
// the previous step's output.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashita-ai/workbench/internal/interpret"
	"github.com/ashita-ai/workbench/internal/invoke"
	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/poller"
)

// OutcomeKind discriminates the result of a run observation.
type OutcomeKind string

const (
	OutcomeSucceeded    OutcomeKind = "succeeded"
	OutcomeFailed       OutcomeKind = "failed"
	OutcomeCancelled    OutcomeKind = "cancelled"
	OutcomeStillRunning OutcomeKind = "still_running"
)

// Outcome is the typed result of running or observing a run. A failed run is
// an Outcome, not an error; errors are reserved for failures to observe.
type Outcome struct {
	Kind     OutcomeKind
	Handle   model.RunHandle
	ActionID string
	Status   model.RunStatus
	// Summary and Artifacts are set for OutcomeSucceeded.
	Summary   interpret.Summary
	Artifacts []model.Artifact
	// Reason is the failure reason verbatim, or the bare state name.
	Reason  string
	Polls   int
	Elapsed time.Duration
}

// Message renders the outcome as one line for an end user.
func (o Outcome) Message() string {
	switch o.Kind {
	case OutcomeSucceeded:
		return o.Summary.Text
	case OutcomeFailed:
		return "Operation failed: " + o.Reason
	case OutcomeCancelled:
		return "Operation was cancelled."
	case OutcomeStillRunning:
		return fmt.Sprintf("Operation started but is still running (run %d); check back later.", o.Handle.RunID)
	default:
		return string(o.Kind)
	}
}

// Err returns a KindRunFailed error for failed or cancelled outcomes, else nil.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeFailed, OutcomeCancelled:
		return &model.Error{Kind: model.KindRunFailed, Message: o.Reason}
	default:
		return nil
	}
}

// Invoker starts runs.
type Invoker interface {
	Invoke(ctx context.Context, req invoke.Request) (model.RunHandle, error)
}

// Waiter waits for a run to settle.
type Waiter interface {
	Wait(ctx context.Context, runID int64, timeout time.Duration) (poller.Result, error)
}

// ArtifactLister lists a run's artifacts newest first.
type ArtifactLister interface {
	ListForRun(ctx context.Context, runID int64) ([]model.Artifact, error)
}

// Config wires a Runner.
type Config struct {
	Invoker   Invoker
	Waiter    Waiter
	Artifacts ArtifactLister
	Logger    *slog.Logger
}

// Runner executes the pipeline. Safe for concurrent use.
type Runner struct {
	invoker   Invoker
	waiter    Waiter
	artifacts ArtifactLister
	logger    *slog.Logger
}

// New creates a Runner.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		invoker:   cfg.Invoker,
		waiter:    cfg.Waiter,
		artifacts: cfg.Artifacts,
		logger:    logger,
	}
}

// Run invokes req and waits up to timeout for the outcome.
func (r *Runner) Run(ctx context.Context, req invoke.Request, timeout time.Duration) (Outcome, error) {
	handle, err := r.invoker.Invoke(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	return r.observe(ctx, req.ActionID, handle, timeout)
}

// Observe waits on an already started run, e.g. after re-attaching.
func (r *Runner) Observe(ctx context.Context, actionID string, handle model.RunHandle, timeout time.Duration) (Outcome, error) {
	return r.observe(ctx, actionID, handle, timeout)
}

func (r *Runner) observe(ctx context.Context, actionID string, handle model.RunHandle, timeout time.Duration) (Outcome, error) {
	res, err := r.waiter.Wait(ctx, handle.RunID, timeout)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{
		Handle:   handle,
		ActionID: actionID,
		Status:   res.Status,
		Polls:    res.Polls,
		Elapsed:  res.Elapsed,
	}
	if res.TimedOut {
		out.Kind = OutcomeStillRunning
		return out, nil
	}
	return r.Settle(ctx, out)
}

// Settle completes an outcome whose Status is terminal: for a succeeded run it
// fetches and interprets the artifacts, otherwise it records the reason.
func (r *Runner) Settle(ctx context.Context, out Outcome) (Outcome, error) {
	switch out.Status.State {
	case model.RunStateSucceeded:
		arts, err := r.artifacts.ListForRun(ctx, out.Handle.RunID)
		if err != nil {
			return Outcome{}, fmt.Errorf("runner: run %d succeeded but artifacts could not be read: %w", out.Handle.RunID, err)
		}
		out.Kind = OutcomeSucceeded
		out.Artifacts = arts
		out.Summary = interpret.Interpret(out.ActionID, arts)
	case model.RunStateFailed:
		out.Kind = OutcomeFailed
		out.Reason = out.Status.Reason()
	case model.RunStateCancelled:
		out.Kind = OutcomeCancelled
		out.Reason = out.Status.Reason()
	default:
		return Outcome{}, fmt.Errorf("runner: settle run %d: state %q is not terminal", out.Handle.RunID, out.Status.State)
	}

	r.logger.Info("runner: run settled",
		"run_id", out.Handle.RunID, "action_id", out.ActionID, "outcome", out.Kind, "polls", out.Polls)
	return out, nil
}

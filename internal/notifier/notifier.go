// Package notifier observes runs in the background and reports each one
// exactly once.
//
// Start invokes synchronously and returns as soon as the run exists; polling
// continues on a detached goroutine. A background wait that runs out of time
// emits a single "still running" settlement and stops. The run stays pending
// in the ledger so it can be re-attached later by id.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/workbench/internal/invoke"
	"github.com/ashita-ai/workbench/internal/ledger"
	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/runner"
)

const (
	// DefaultReattachConcurrency bounds concurrent observations in ReattachPending.
	DefaultReattachConcurrency = 4
	// DefaultReattachTimeout is the per-run budget when neither a timeout nor
	// TimeoutFor is given.
	DefaultReattachTimeout = 30 * time.Second
)

// Observer waits on a started run and settles it.
type Observer interface {
	Observe(ctx context.Context, actionID string, handle model.RunHandle, timeout time.Duration) (runner.Outcome, error)
}

// Config wires a Notifier.
type Config struct {
	Invoker  runner.Invoker
	Observer Observer
	// Ledger records started runs. Nil uses an in-memory ledger.
	Ledger              ledger.Store
	Logger              *slog.Logger
	ReattachConcurrency int
	// TimeoutFor picks the observation budget when ReattachPending is given
	// none. Nil falls back to DefaultReattachTimeout.
	TimeoutFor func(actionID string) time.Duration
}

// Notifier owns background observations until Close.
type Notifier struct {
	invoker     runner.Invoker
	observer    Observer
	ledger      ledger.Store
	logger      *slog.Logger
	concurrency int
	timeoutFor  func(actionID string) time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Notifier.
func New(cfg Config) *Notifier {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Ledger
	if store == nil {
		store = ledger.NewMemory()
	}
	concurrency := cfg.ReattachConcurrency
	if concurrency <= 0 {
		concurrency = DefaultReattachConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		invoker:     cfg.Invoker,
		observer:    cfg.Observer,
		ledger:      store,
		logger:      logger,
		concurrency: concurrency,
		timeoutFor:  cfg.TimeoutFor,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Ledger returns the store runs are recorded in.
func (n *Notifier) Ledger() ledger.Store { return n.ledger }

// Start invokes req and observes the run in the background for up to
// timeout. onSettled (may be nil) is called exactly once, from the background
// goroutine. Invocation errors are returned directly and nothing is spawned.
func (n *Notifier) Start(ctx context.Context, req invoke.Request, timeout time.Duration, onSettled func(Settlement)) (*Task, error) {
	handle, err := n.invoker.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := n.ledger.Record(ctx, ledger.Entry{
		RunID:          handle.RunID,
		InvocationID:   handle.InvocationID,
		ActionID:       req.ActionID,
		ConversationID: req.ConversationID,
		IdempotencyKey: req.IdempotencyKey,
		State:          model.RunStateQueued,
	}); err != nil {
		n.logger.Warn("notifier: ledger record failed; run cannot be re-attached after restart",
			"run_id", handle.RunID, "error", err)
	}

	n.logger.Info("notifier: background run started",
		"run_id", handle.RunID, "action_id", req.ActionID, "timeout", timeout)
	return n.spawn(handle, req.ActionID, timeout, onSettled), nil
}

// Reattach observes an already started run in the background.
func (n *Notifier) Reattach(handle model.RunHandle, actionID string, timeout time.Duration, onSettled func(Settlement)) *Task {
	n.logger.Info("notifier: re-attaching", "run_id", handle.RunID, "action_id", actionID)
	return n.spawn(handle, actionID, timeout, onSettled)
}

func (n *Notifier) spawn(handle model.RunHandle, actionID string, timeout time.Duration, onSettled func(Settlement)) *Task {
	task := newTask(handle, actionID)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		s := n.observe(n.ctx, handle, actionID, timeout)
		n.deliver(task, s, onSettled)
	}()
	return task
}

func (n *Notifier) observe(ctx context.Context, handle model.RunHandle, actionID string, timeout time.Duration) Settlement {
	s := Settlement{Handle: handle, ActionID: actionID}
	out, err := n.observer.Observe(ctx, actionID, handle, timeout)
	if err != nil {
		s.Err = err
		return s
	}
	s.Outcome = out

	// The ledger write uses a fresh context: the observation finished, so
	// recording it must not be lost to a concurrent shutdown.
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if out.Kind == runner.OutcomeStillRunning {
		e, err := n.ledger.Get(lctx, handle.RunID)
		if err != nil {
			e = ledger.Entry{RunID: handle.RunID, InvocationID: handle.InvocationID, ActionID: actionID}
		}
		e.State = out.Status.State
		if err := n.ledger.Record(lctx, e); err != nil {
			n.logger.Warn("notifier: ledger update failed", "run_id", handle.RunID, "error", err)
		}
	} else if err := n.ledger.Settle(lctx, handle.RunID, out.Status.State, string(out.Kind), out.Message()); err != nil {
		n.logger.Debug("notifier: ledger settle skipped", "run_id", handle.RunID, "error", err)
	}
	return s
}

func (n *Notifier) deliver(task *Task, s Settlement, onSettled func(Settlement)) {
	if err := task.settle(s); err != nil {
		n.logger.Error("notifier: duplicate settlement dropped", "run_id", s.Handle.RunID, "error", err)
		return
	}
	n.logger.Info("notifier: run settled",
		"run_id", s.Handle.RunID, "action_id", s.ActionID, "kind", s.Kind())
	if onSettled != nil {
		onSettled(s)
	}
}

// ReattachPending observes every unsettled ledger entry, at most
// ReattachConcurrency at a time, and blocks until each has settled or timed
// out. onSettled is called once per entry, possibly concurrently.
func (n *Notifier) ReattachPending(ctx context.Context, timeout time.Duration, onSettled func(Settlement)) ([]Settlement, error) {
	pending, err := n.ledger.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("notifier: list pending: %w", err)
	}

	results := make([]Settlement, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.concurrency)
	for i, e := range pending {
		g.Go(func() error {
			task := newTask(e.Handle(), e.ActionID)
			s := n.observe(gctx, e.Handle(), e.ActionID, n.budget(e.ActionID, timeout))
			n.deliver(task, s, onSettled)
			results[i] = s
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("notifier: reattach pending: %w", err)
	}
	return results, nil
}

func (n *Notifier) budget(actionID string, timeout time.Duration) time.Duration {
	switch {
	case timeout > 0:
		return timeout
	case n.timeoutFor != nil:
		return n.timeoutFor(actionID)
	default:
		return DefaultReattachTimeout
	}
}

// Wait blocks until every background observation has settled.
func (n *Notifier) Wait() { n.wg.Wait() }

// Close stops observing. Runs in flight settle with a cancellation error;
// the backend keeps running them.
func (n *Notifier) Close() error {
	n.cancel()
	n.wg.Wait()
	return nil
}

package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/runner"
)

// ErrAlreadySettled is returned when a task is settled a second time.
var ErrAlreadySettled = errors.New("notifier: task already settled")

// KindObservationFailed marks a settlement whose run could not be observed
// (network failure, shutdown). The run itself may still be going.
const KindObservationFailed runner.OutcomeKind = "observation_failed"

// Settlement is delivered exactly once per task.
type Settlement struct {
	Handle   model.RunHandle
	ActionID string
	// Outcome is valid when Err is nil.
	Outcome runner.Outcome
	Err     error
}

// Kind returns the outcome kind, or KindObservationFailed.
func (s Settlement) Kind() runner.OutcomeKind {
	if s.Err != nil {
		return KindObservationFailed
	}
	return s.Outcome.Kind
}

// Message renders the settlement for an end user.
func (s Settlement) Message() string {
	if s.Err != nil {
		return fmt.Sprintf("Lost track of run %d (%v); it may still be running. Re-attach to check on it.",
			s.Handle.RunID, s.Err)
	}
	return s.Outcome.Message()
}

// Task is the single-resolution completion handle of one background run.
type Task struct {
	handle   model.RunHandle
	actionID string

	mu      sync.Mutex
	settled bool
	result  Settlement
	done    chan struct{}
}

func newTask(handle model.RunHandle, actionID string) *Task {
	return &Task{handle: handle, actionID: actionID, done: make(chan struct{})}
}

// Handle returns the run handle.
func (t *Task) Handle() model.RunHandle { return t.handle }

// Done is closed once the task has settled.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result returns the settlement and whether the task has settled.
func (t *Task) Result() (Settlement, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.settled
}

// Wait blocks until the task settles or ctx is done.
func (t *Task) Wait(ctx context.Context) (Settlement, error) {
	select {
	case <-t.done:
		s, _ := t.Result()
		return s, nil
	case <-ctx.Done():
		return Settlement{}, ctx.Err()
	}
}

// settle resolves the task. Any call after the first returns
// ErrAlreadySettled and changes nothing.
func (t *Task) settle(s Settlement) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.settled {
		return ErrAlreadySettled
	}
	t.settled = true
	t.result = s
	close(t.done)
	return nil
}

// Package runs wraps the run status and run-control endpoints.
//
// Status is never cached: every call is a fresh read of the backend's source
// of truth. Cancel is a backend-facing action and the only way to stop a run;
// abandoning a wait on the client side leaves the run going.
package runs

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/transport"
)

// Client reads and controls runs. Safe for concurrent use.
type Client struct {
	api    *transport.Client
	logger *slog.Logger
}

// New creates a run client.
func New(api *transport.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: api, logger: logger}
}

func runPath(runID int64, suffix string) string {
	return fmt.Sprintf("/workbench/runs/%d%s", runID, suffix)
}

// Status fetches the current status of a run.
func (c *Client) Status(ctx context.Context, runID int64) (model.RunStatus, error) {
	var status model.RunStatus
	if err := c.api.JSON(ctx, http.MethodGet, runPath(runID, ""), nil, &status); err != nil {
		return model.RunStatus{}, fmt.Errorf("runs: status %d: %w", runID, err)
	}
	if !status.State.Valid() {
		return model.RunStatus{}, fmt.Errorf("runs: status %d: %w", runID,
			&model.Error{Kind: model.KindContractViolation, Message: fmt.Sprintf("unknown run state %q", status.State)})
	}
	if status.RunID == 0 {
		status.RunID = runID
	}
	return status, nil
}

// SubmitInput answers a run that is waiting_for_input.
func (c *Client) SubmitInput(ctx context.Context, runID int64, input any) error {
	body := map[string]any{"input": input}
	if err := c.api.JSON(ctx, http.MethodPost, runPath(runID, "/input"), body, nil); err != nil {
		return fmt.Errorf("runs: submit input %d: %w", runID, err)
	}
	c.logger.Info("runs: input submitted", "run_id", runID)
	return nil
}

// Cancel asks the backend to cancel a run.
func (c *Client) Cancel(ctx context.Context, runID int64) error {
	if err := c.api.JSON(ctx, http.MethodPost, runPath(runID, "/cancel"), nil, nil); err != nil {
		return fmt.Errorf("runs: cancel %d: %w", runID, err)
	}
	c.logger.Info("runs: cancel requested", "run_id", runID)
	return nil
}

// Retry asks the backend to re-run a failed run.
func (c *Client) Retry(ctx context.Context, runID int64) error {
	if err := c.api.JSON(ctx, http.MethodPost, runPath(runID, "/retry"), nil, nil); err != nil {
		return fmt.Errorf("runs: retry %d: %w", runID, err)
	}
	c.logger.Info("runs: retry requested", "run_id", runID)
	return nil
}

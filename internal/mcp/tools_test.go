package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/workbench/internal/interpret"
	"github.com/ashita-ai/workbench/internal/invoke"
	"github.com/ashita-ai/workbench/internal/ledger"
	"github.com/ashita-ai/workbench/internal/listing"
	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/runner"
	"github.com/ashita-ai/workbench/internal/testutil"
)

// fakeOrchestrator records calls and returns canned results.
type fakeOrchestrator struct {
	mu        sync.Mutex
	requests  []invoke.Request
	timeouts  []time.Duration
	pages     []listing.PageRequest
	observed  []model.RunHandle
	outcome   runner.Outcome
	status    model.RunStatus
	page      listing.PageResult
	err       error
	policy    string
	policyErr error
	pending   []ledger.Entry
}

func (f *fakeOrchestrator) Run(_ context.Context, req invoke.Request, timeout time.Duration) (runner.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.timeouts = append(f.timeouts, timeout)
	out := f.outcome
	out.ActionID = req.ActionID
	return out, f.err
}

func (f *fakeOrchestrator) Invoke(_ context.Context, req invoke.Request) (model.RunHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.outcome.Handle, f.err
}

func (f *fakeOrchestrator) Status(_ context.Context, runID int64) (model.RunStatus, error) {
	s := f.status
	s.RunID = runID
	return s, f.err
}

func (f *fakeOrchestrator) Observe(_ context.Context, actionID string, h model.RunHandle, timeout time.Duration) (runner.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observed = append(f.observed, h)
	f.timeouts = append(f.timeouts, timeout)
	out := f.outcome
	out.Handle, out.ActionID = h, actionID
	return out, f.err
}

func (f *fakeOrchestrator) FetchPage(_ context.Context, req listing.PageRequest, timeout time.Duration) (listing.PageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, req)
	f.timeouts = append(f.timeouts, timeout)
	return f.page, f.err
}

func (f *fakeOrchestrator) PolicyPrompt(context.Context) (string, error) {
	return f.policy, f.policyErr
}

func (f *fakeOrchestrator) PendingRuns(context.Context) ([]ledger.Entry, error) {
	return f.pending, f.err
}

func (f *fakeOrchestrator) Timeout(actionID string) time.Duration {
	if listing.ActionFor("schools") == actionID {
		return 15 * time.Second
	}
	return 25 * time.Second
}

func (f *fakeOrchestrator) RequiresConfirmation(actionID string) bool {
	return actionID == "admin.bulk_delete.students"
}

func newTestServer(t *testing.T) (*Server, *fakeOrchestrator) {
	t.Helper()
	orch := &fakeOrchestrator{
		outcome: runner.Outcome{
			Kind:   runner.OutcomeSucceeded,
			Handle: model.RunHandle{InvocationID: "inv-1", RunID: 101},
			Status: model.RunStatus{RunID: 101, State: model.RunStateSucceeded},
			Summary: interpret.Summary{
				Text: "Created school 42.", Kind: "admin.mutation.result@v1", ArtifactID: "art-1",
			},
			Polls: 3,
		},
	}
	s := New(Config{
		Orchestrator:   orch,
		ConversationID: "conv-default",
		PluginID:       "plugin-admin",
		Logger:         testutil.TestLogger(),
		Version:        "test",
	})
	return s, orch
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func TestRegisterTools(t *testing.T) {
	s, _ := newTestServer(t)
	require.NotNil(t, s.MCPServer())

	resp := s.MCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	for _, name := range []string{"workbench_invoke", "workbench_run_status", "workbench_wait", "workbench_list", "workbench_confirm"} {
		assert.Contains(t, string(data), `"`+name+`"`)
	}
}

func TestHandleInvoke(t *testing.T) {
	s, orch := newTestServer(t)

	result, err := s.handleInvoke(context.Background(), toolRequest("workbench_invoke", map[string]any{
		"action_id": "admin.create.school",
		"params":    map[string]any{"name": "North"},
		"event_id":  "msg-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var view outcomeView
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &view))
	assert.Equal(t, runner.OutcomeSucceeded, view.Outcome)
	assert.Equal(t, int64(101), view.RunID)
	assert.Equal(t, "Created school 42.", view.Message)
	assert.Equal(t, "admin.mutation.result@v1", view.ResultKind)

	require.Len(t, orch.requests, 1)
	req := orch.requests[0]
	assert.Equal(t, "conv-default", req.ConversationID)
	assert.Equal(t, "plugin-admin", req.PluginID)
	assert.Equal(t, invoke.IdempotencyKey("admin.create.school", "msg-1"), req.IdempotencyKey)
	assert.Equal(t, map[string]any{"name": "North"}, req.Params)
	assert.Equal(t, 25*time.Second, orch.timeouts[0])
}

func TestHandleInvoke_SameEventSameKey(t *testing.T) {
	s, orch := newTestServer(t)
	args := map[string]any{"action_id": "admin.create.school", "event_id": "msg-7"}

	_, err := s.handleInvoke(context.Background(), toolRequest("workbench_invoke", args))
	require.NoError(t, err)
	_, err = s.handleInvoke(context.Background(), toolRequest("workbench_invoke", args))
	require.NoError(t, err)

	require.Len(t, orch.requests, 2)
	assert.Equal(t, orch.requests[0].IdempotencyKey, orch.requests[1].IdempotencyKey)
}

func TestHandleInvoke_WithoutEventGetsFreshKeys(t *testing.T) {
	s, orch := newTestServer(t)
	args := map[string]any{"action_id": "admin.create.school"}

	_, _ = s.handleInvoke(context.Background(), toolRequest("workbench_invoke", args))
	_, _ = s.handleInvoke(context.Background(), toolRequest("workbench_invoke", args))

	require.Len(t, orch.requests, 2)
	assert.NotEqual(t, orch.requests[0].IdempotencyKey, orch.requests[1].IdempotencyKey)
}

func TestHandleInvoke_MissingAction(t *testing.T) {
	s, orch := newTestServer(t)

	result, err := s.handleInvoke(context.Background(), toolRequest("workbench_invoke", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "action_id is required")
	assert.Empty(t, orch.requests)
}

func TestHandleInvoke_ParamsMustBeObject(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleInvoke(context.Background(), toolRequest("workbench_invoke", map[string]any{
		"action_id": "admin.create.school",
		"params":    "name=North",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "params must be a JSON object")
}

func TestHandleInvoke_StillRunningIsNotAnError(t *testing.T) {
	s, orch := newTestServer(t)
	orch.outcome = runner.Outcome{
		Kind:   runner.OutcomeStillRunning,
		Handle: model.RunHandle{RunID: 202},
		Status: model.RunStatus{RunID: 202, State: model.RunStateRunning},
	}

	result, err := s.handleInvoke(context.Background(), toolRequest("workbench_invoke", map[string]any{
		"action_id":       "admin.csv_import.roster",
		"timeout_seconds": 2.5,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var view outcomeView
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &view))
	assert.Equal(t, runner.OutcomeStillRunning, view.Outcome)
	assert.Contains(t, view.Message, "still running")
	assert.Equal(t, 2500*time.Millisecond, orch.timeouts[0])
}

func TestHandleInvoke_NoWait(t *testing.T) {
	s, orch := newTestServer(t)

	result, err := s.handleInvoke(context.Background(), toolRequest("workbench_invoke", map[string]any{
		"action_id": "admin.create.school",
		"wait":      false,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, "started", resp["status"])
	assert.Equal(t, float64(101), resp["run_id"])
	assert.Empty(t, orch.timeouts, "no wait should happen")
}

func TestHandleInvoke_ErrorCarriesKind(t *testing.T) {
	s, orch := newTestServer(t)
	orch.err = model.NewError(model.KindPluginDisabled, http.StatusForbidden, "plugin disabled", nil)

	result, err := s.handleInvoke(context.Background(), toolRequest("workbench_invoke", map[string]any{
		"action_id": "admin.create.school",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "plugin_disabled")
}

func TestHandleInvoke_ConfirmationFlow(t *testing.T) {
	s, orch := newTestServer(t)
	ctx := context.Background()

	confirm, err := s.handleConfirm(ctx, toolRequest("workbench_confirm", map[string]any{
		"action_id": "admin.bulk_delete.students",
	}))
	require.NoError(t, err)
	var issued struct {
		ConfirmationID       string `json:"confirmation_id"`
		RequiresConfirmation bool   `json:"requires_confirmation"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, confirm)), &issued))
	require.NotEmpty(t, issued.ConfirmationID)
	assert.True(t, issued.RequiresConfirmation)

	args := map[string]any{
		"action_id":       "admin.bulk_delete.students",
		"confirmation_id": issued.ConfirmationID,
		"event_id":        "msg-9",
	}
	result, err := s.handleInvoke(ctx, toolRequest("workbench_invoke", args))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, orch.requests, 1)
	assert.Equal(t, issued.ConfirmationID, orch.requests[0].ConfirmationID)

	// The same token cannot confirm a second invocation.
	result, err = s.handleInvoke(ctx, toolRequest("workbench_invoke", args))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Len(t, orch.requests, 1)
}

func TestHandleInvoke_ConfirmationRequired(t *testing.T) {
	s, orch := newTestServer(t)
	for _, wait := range []bool{true, false} {
		result, err := s.handleInvoke(context.Background(), toolRequest("workbench_invoke", map[string]any{
			"action_id": "admin.bulk_delete.students",
			"event_id":  "msg-10",
			"wait":      wait,
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, parseToolText(t, result), "workbench_confirm")
	}
	assert.Empty(t, orch.requests)
}

func TestHandleConfirm_MissingAction(t *testing.T) {
	s, _ := newTestServer(t)
	result, err := s.handleConfirm(context.Background(), toolRequest("workbench_confirm", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRunStatus(t *testing.T) {
	s, orch := newTestServer(t)
	reason := "duplicate name"
	orch.status = model.RunStatus{State: model.RunStateFailed, FailureReason: &reason}

	result, err := s.handleRunStatus(context.Background(), toolRequest("workbench_run_status", map[string]any{"run_id": 55.0}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, float64(55), resp["run_id"])
	assert.Equal(t, "failed", resp["state"])
	assert.Equal(t, true, resp["terminal"])
	assert.Equal(t, "duplicate name", resp["reason"])
}

func TestHandleRunStatus_MissingRunID(t *testing.T) {
	s, _ := newTestServer(t)
	result, err := s.handleRunStatus(context.Background(), toolRequest("workbench_run_status", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleWait(t *testing.T) {
	s, orch := newTestServer(t)

	result, err := s.handleWait(context.Background(), toolRequest("workbench_wait", map[string]any{
		"run_id":    77.0,
		"action_id": "admin.create.school",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	require.Len(t, orch.observed, 1)
	assert.Equal(t, int64(77), orch.observed[0].RunID)
	assert.Empty(t, orch.requests, "waiting must never start a run")
	assert.Equal(t, 25*time.Second, orch.timeouts[0])
}

func TestHandleList(t *testing.T) {
	s, orch := newTestServer(t)
	next := int64(150)
	orch.page = listing.PageResult{
		RunID: 9,
		Page:  model.ListPage{IDs: []int64{101, 150}, HasMore: true, NextAfterID: &next},
	}

	result, err := s.handleList(context.Background(), toolRequest("workbench_list", map[string]any{
		"entity_type": "schools",
		"filters":     map[string]any{"district": "north"},
		"page_size":   2.0,
		"after_id":    100.0,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var resp struct {
		StillLoading bool    `json:"still_loading"`
		IDs          []int64 `json:"ids"`
		HasMore      bool    `json:"has_more"`
		NextAfterID  *int64  `json:"next_after_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.False(t, resp.StillLoading)
	assert.Equal(t, []int64{101, 150}, resp.IDs)
	assert.True(t, resp.HasMore)
	require.NotNil(t, resp.NextAfterID)
	assert.Equal(t, int64(150), *resp.NextAfterID)

	require.Len(t, orch.pages, 1)
	pr := orch.pages[0]
	assert.Equal(t, "schools", pr.Query.EntityType)
	assert.Equal(t, 2, pr.Query.PageSize)
	require.NotNil(t, pr.AfterID)
	assert.Equal(t, int64(100), *pr.AfterID)
	assert.Equal(t, "conv-default", pr.Session)
	assert.Equal(t, 15*time.Second, orch.timeouts[0])
}

func TestHandleList_StillLoading(t *testing.T) {
	s, orch := newTestServer(t)
	orch.page = listing.PageResult{TimedOut: true, RunID: 12}

	result, err := s.handleList(context.Background(), toolRequest("workbench_list", map[string]any{"entity_type": "schools"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, true, resp["still_loading"])
	assert.NotContains(t, resp, "ids")
	assert.Nil(t, orch.pages[0].AfterID)
}

func TestHandleList_BadCursor(t *testing.T) {
	s, orch := newTestServer(t)

	result, err := s.handleList(context.Background(), toolRequest("workbench_list", map[string]any{
		"entity_type": "schools",
		"after_id":    1.5,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Empty(t, orch.pages)
}

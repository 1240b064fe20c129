package mcp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/workbench/internal/invoke"
	"github.com/ashita-ai/workbench/internal/listing"
	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/runner"
)

func (s *Server) registerTools() {
	// workbench_invoke: start an action and, by default, wait for its outcome.
	s.mcpServer.AddTool(
		mcplib.NewTool("workbench_invoke",
			mcplib.WithDescription(`Start a workbench action and wait for its outcome.

WHEN TO USE: To create, change, delete or import admin data. Reads that
return entity lists should use workbench_list instead.

OUTCOMES:
- succeeded: the run finished; "message" summarizes what it did
- failed / cancelled: the run finished without doing the work; see "reason"
- still_running: the wait budget ran out. This is NOT a failure. The run may
  still succeed; call workbench_wait with the returned run_id later.

Retrying with the same event_id never starts a second run. Actions that
require confirmation need a confirmation_id from workbench_confirm, obtained
only after the user explicitly approved the action.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("action_id",
				mcplib.Description("Action to run, e.g. admin.create.school or admin.bulk_delete.students"),
				mcplib.Required(),
			),
			mcplib.WithObject("params",
				mcplib.Description("Action parameters as a JSON object"),
			),
			mcplib.WithString("event_id",
				mcplib.Description("Identifier of the user request this invocation answers. Reusing it replays the same run."),
			),
			mcplib.WithString("conversation_id",
				mcplib.Description("Saved conversation the run belongs to. Defaults to the server's configured conversation."),
			),
			mcplib.WithString("confirmation_id",
				mcplib.Description("Token from workbench_confirm for actions that require confirmation"),
			),
			mcplib.WithBoolean("wait",
				mcplib.Description("Wait for the outcome (default true). When false, returns the run_id immediately."),
				mcplib.DefaultBool(true),
			),
			mcplib.WithNumber("timeout_seconds",
				mcplib.Description("Override the action's wait budget"),
				mcplib.Min(1),
			),
		),
		s.handleInvoke,
	)

	// workbench_run_status: one status read, no waiting.
	s.mcpServer.AddTool(
		mcplib.NewTool("workbench_run_status",
			mcplib.WithDescription("Read the current state of a run without waiting."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("run_id", mcplib.Description("Run to inspect"), mcplib.Required()),
		),
		s.handleRunStatus,
	)

	// workbench_wait: wait on an already started run.
	s.mcpServer.AddTool(
		mcplib.NewTool("workbench_wait",
			mcplib.WithDescription(`Wait for a run that is already in progress, e.g. one that an earlier
workbench_invoke reported as still_running. Never starts a new run.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("run_id", mcplib.Description("Run to wait on"), mcplib.Required()),
			mcplib.WithString("action_id",
				mcplib.Description("Action the run belongs to; used to pick the wait budget and summarize the result"),
			),
			mcplib.WithNumber("timeout_seconds",
				mcplib.Description("How long to wait before reporting still_running"),
				mcplib.Min(1),
			),
		),
		s.handleWait,
	)

	// workbench_list: one page of a cursor-paginated entity listing.
	s.mcpServer.AddTool(
		mcplib.NewTool("workbench_list",
			mcplib.WithDescription(`Fetch one page of entities.

Pass the previous page's next_after_id as after_id to continue. When
still_loading is true the page is not ready yet: call again with the same
arguments and the same run is observed rather than a new one started.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("entity_type",
				mcplib.Description("Entity to list, e.g. schools or teachers"),
				mcplib.Required(),
			),
			mcplib.WithObject("filters", mcplib.Description("Filter parameters as a JSON object")),
			mcplib.WithNumber("page_size",
				mcplib.Description("Maximum entities per page"),
				mcplib.Min(1),
				mcplib.Max(500),
				mcplib.DefaultNumber(50),
			),
			mcplib.WithNumber("after_id", mcplib.Description("Cursor from the previous page's next_after_id")),
			mcplib.WithString("session",
				mcplib.Description("Listing session; change it to force fresh results instead of replaying earlier pages"),
			),
		),
		s.handleList,
	)

	// workbench_confirm: mint a confirmation token after user approval.
	s.mcpServer.AddTool(
		mcplib.NewTool("workbench_confirm",
			mcplib.WithDescription(`Issue a single-use confirmation token for an action.

Call this ONLY after the user has explicitly approved the exact action.
The token is valid for one workbench_invoke of that action.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("action_id", mcplib.Description("Action the user approved"), mcplib.Required()),
		),
		s.handleConfirm,
	)
}

// outcomeView is the JSON shape of a run outcome returned to agents.
type outcomeView struct {
	Outcome      runner.OutcomeKind `json:"outcome"`
	RunID        int64              `json:"run_id"`
	InvocationID string             `json:"invocation_id,omitempty"`
	ActionID     string             `json:"action_id,omitempty"`
	State        model.RunState     `json:"state"`
	Message      string             `json:"message"`
	Reason       string             `json:"reason,omitempty"`
	ResultKind   string             `json:"result_kind,omitempty"`
	ResultFailed bool               `json:"result_failed,omitempty"`
	ArtifactID   string             `json:"artifact_id,omitempty"`
	Polls        int                `json:"polls"`
	ElapsedMs    int64              `json:"elapsed_ms"`
}

func viewOutcome(out runner.Outcome) outcomeView {
	v := outcomeView{
		Outcome:      out.Kind,
		RunID:        out.Handle.RunID,
		InvocationID: out.Handle.InvocationID,
		ActionID:     out.ActionID,
		State:        out.Status.State,
		Message:      out.Message(),
		Reason:       out.Reason,
		Polls:        out.Polls,
		ElapsedMs:    out.Elapsed.Milliseconds(),
	}
	if out.Kind == runner.OutcomeSucceeded {
		v.ResultKind = out.Summary.Kind
		v.ResultFailed = out.Summary.Failed
		v.ArtifactID = out.Summary.ArtifactID
	}
	return v
}

func (s *Server) handleInvoke(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	actionID := request.GetString("action_id", "")
	if actionID == "" {
		return errorResult("action_id is required"), nil
	}
	args := request.GetArguments()
	params, err := objectArg(args, "params")
	if err != nil {
		return errorResult(err.Error()), nil
	}

	confirmation := request.GetString("confirmation_id", "")
	if confirmation == "" && s.orch.RequiresConfirmation(actionID) {
		return errorResult(fmt.Sprintf(
			"%s requires confirmation; ask the user to approve it, call workbench_confirm and pass the returned confirmation_id", actionID)), nil
	}
	if confirmation != "" && !s.confirmations.Consume(confirmation, actionID) {
		return errorResult(fmt.Sprintf(
			"confirmation_id is unknown, expired, already used or issued for another action; ask the user to approve %s again and call workbench_confirm", actionID)), nil
	}

	key := invoke.FreshIdempotencyKey(actionID)
	if event := request.GetString("event_id", ""); event != "" {
		key = invoke.IdempotencyKey(actionID, event)
	}
	req := invoke.Request{
		ActionID:       actionID,
		Params:         params,
		ConversationID: request.GetString("conversation_id", s.conversationID),
		PluginID:       s.pluginID,
		IdempotencyKey: key,
		ConfirmationID: confirmation,
	}

	if !request.GetBool("wait", true) {
		handle, err := s.orch.Invoke(ctx, req)
		if err != nil {
			return errorResult(describeError("invoke", err)), nil
		}
		return jsonResult(map[string]any{
			"run_id":        handle.RunID,
			"invocation_id": handle.InvocationID,
			"status":        "started",
		}), nil
	}

	out, err := s.orch.Run(ctx, req, s.timeout(request, actionID))
	if err != nil {
		return errorResult(describeError("invoke", err)), nil
	}
	s.logger.Info("mcp: invoke finished", "action_id", actionID, "run_id", out.Handle.RunID, "outcome", out.Kind)
	return jsonResult(viewOutcome(out)), nil
}

func (s *Server) handleRunStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID := int64(request.GetInt("run_id", 0))
	if runID <= 0 {
		return errorResult("run_id is required"), nil
	}
	status, err := s.orch.Status(ctx, runID)
	if err != nil {
		return errorResult(describeError("status", err)), nil
	}
	resp := map[string]any{
		"run_id":   status.RunID,
		"state":    status.State,
		"terminal": status.State.IsTerminal(),
	}
	if status.State == model.RunStateFailed || status.State == model.RunStateCancelled {
		resp["reason"] = status.Reason()
	}
	return jsonResult(resp), nil
}

func (s *Server) handleWait(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID := int64(request.GetInt("run_id", 0))
	if runID <= 0 {
		return errorResult("run_id is required"), nil
	}
	actionID := request.GetString("action_id", "")

	out, err := s.orch.Observe(ctx, actionID, model.RunHandle{RunID: runID}, s.timeout(request, actionID))
	if err != nil {
		return errorResult(describeError("wait", err)), nil
	}
	return jsonResult(viewOutcome(out)), nil
}

func (s *Server) handleList(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	entityType := request.GetString("entity_type", "")
	if entityType == "" {
		return errorResult("entity_type is required"), nil
	}
	args := request.GetArguments()
	filters, err := objectArg(args, "filters")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	afterID, err := optionalInt64(args, "after_id")
	if err != nil {
		return errorResult(err.Error()), nil
	}

	req := listing.PageRequest{
		Query: listing.Query{
			EntityType: entityType,
			Filters:    filters,
			PageSize:   request.GetInt("page_size", 50),
		},
		AfterID: afterID,
		Session: request.GetString("session", s.conversationID),
	}
	res, err := s.orch.FetchPage(ctx, req, s.orch.Timeout(listing.ActionFor(entityType)))
	if err != nil {
		return errorResult(describeError("list", err)), nil
	}
	if res.TimedOut {
		return jsonResult(map[string]any{
			"still_loading": true,
			"run_id":        res.RunID,
		}), nil
	}
	return jsonResult(map[string]any{
		"still_loading": false,
		"run_id":        res.RunID,
		"ids":           res.Page.IDs,
		"items":         res.Page.Items,
		"has_more":      res.Page.HasMore,
		"next_after_id": res.Page.NextAfterID,
		"total":         res.Page.Total,
	}), nil
}

func (s *Server) handleConfirm(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	actionID := request.GetString("action_id", "")
	if actionID == "" {
		return errorResult("action_id is required"), nil
	}
	return jsonResult(map[string]any{
		"action_id":             actionID,
		"confirmation_id":       s.confirmations.Issue(actionID),
		"requires_confirmation": s.orch.RequiresConfirmation(actionID),
		"expires_in_seconds":    int(confirmationWindow.Seconds()),
	}), nil
}

func (s *Server) timeout(request mcplib.CallToolRequest, actionID string) time.Duration {
	if secs := request.GetFloat("timeout_seconds", 0); secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return s.orch.Timeout(actionID)
}

// describeError renders err with its kind so agents can branch on it.
func describeError(op string, err error) string {
	var e *model.Error
	if errors.As(err, &e) {
		return fmt.Sprintf("%s failed (%s): %v", op, e.Kind, err)
	}
	return fmt.Sprintf("%s failed: %v", op, err)
}

func objectArg(args map[string]any, key string) (map[string]any, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a JSON object", key)
	}
	return m, nil
}

func optionalInt64(args map[string]any, key string) (*int64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	var n int64
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("%s must be an integer", key)
		}
		n = int64(x)
	case int:
		n = int64(x)
	case int64:
		n = x
	default:
		return nil, fmt.Errorf("%s must be an integer", key)
	}
	return &n, nil
}

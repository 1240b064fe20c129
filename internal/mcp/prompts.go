package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// before-destructive-action: walks the agent through confirmation first.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("before-destructive-action",
			mcplib.WithPromptDescription("Get explicit user approval before a bulk delete or import"),
			mcplib.WithArgument("action_id",
				mcplib.ArgumentDescription("The action about to be invoked (e.g., admin.bulk_delete.students)"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleBeforeDestructivePrompt,
	)

	// agent-setup: system prompt snippet explaining the workbench workflow.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("agent-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining how to run workbench actions, including the backend policy"),
		),
		s.handleAgentSetupPrompt,
	)
}

func (s *Server) handleBeforeDestructivePrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	actionID := request.Params.Arguments["action_id"]
	if actionID == "" {
		return nil, fmt.Errorf("action_id argument is required")
	}

	need := "does not require"
	if s.orch.RequiresConfirmation(actionID) {
		need = "REQUIRES"
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Confirm %s with the user", actionID),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`The action %[1]s %[2]s explicit confirmation.

1. If a preview action exists, run it first and show the user exactly what
   will change (counts, blocked rows, sample ids).

2. ASK the user to approve the action as previewed. Do not infer approval.

3. Only after a clear yes, CALL workbench_confirm with action_id="%[1]s".

4. CALL workbench_invoke with the returned confirmation_id. The token works
   once; a retry of the same request must reuse the same event_id, not a
   new token.`, actionID, need),
				},
			},
		},
	}, nil
}

func (s *Server) handleAgentSetupPrompt(ctx context.Context, _ mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	text := `You can run admin actions through the workbench. Every action runs
asynchronously on the backend; the tools wait for you up to a per-action budget.

## Available Tools

- workbench_invoke: start an action and wait for its outcome
- workbench_wait: keep waiting on a run that came back still_running
- workbench_run_status: read a run's state once, without waiting
- workbench_list: fetch entity lists one page at a time
- workbench_confirm: mint a confirmation token after the user approved

## Rules

- still_running is not a failure. Tell the user the run is in progress and
  check on it later with workbench_wait.
- Pass the same event_id when retrying the same user request. It never
  starts a duplicate run.
- Bulk deletes and imports need user confirmation first.`

	if policy, err := s.orch.PolicyPrompt(ctx); err != nil {
		s.logger.Warn("mcp: policy prompt unavailable for agent-setup", "error", err)
	} else {
		text += "\n\n## Backend Policy\n\n" + policy
	}

	return &mcplib.GetPromptResult{
		Description: "Workbench action workflow for AI agents",
		Messages: []mcplib.PromptMessage{
			{
				Role:    mcplib.RoleUser,
				Content: mcplib.TextContent{Type: "text", Text: text},
			},
		},
	}, nil
}

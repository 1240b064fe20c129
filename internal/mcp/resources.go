package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	policyPromptURI = "workbench://policy/prompt"
	pendingRunsURI  = "workbench://runs/pending"
)

func (s *Server) registerResources() {
	// workbench://policy/prompt: the backend's current policy prompt.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			policyPromptURI,
			"Policy Prompt",
			mcplib.WithResourceDescription("Rules the backend applies to admin actions"),
			mcplib.WithMIMEType("text/plain"),
		),
		s.handlePolicyPrompt,
	)

	// workbench://runs/pending: runs started here that have not settled.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			pendingRunsURI,
			"Pending Runs",
			mcplib.WithResourceDescription("Runs started by this client that were still in progress when last observed"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePendingRuns,
	)
}

func (s *Server) handlePolicyPrompt(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	prompt, err := s.orch.PolicyPrompt(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: policy prompt: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      policyPromptURI,
			MIMEType: "text/plain",
			Text:     prompt,
		},
	}, nil
}

// pendingRun is the resource view of a ledger entry.
type pendingRun struct {
	RunID     int64  `json:"run_id"`
	ActionID  string `json:"action_id"`
	State     string `json:"state"`
	StartedAt string `json:"started_at"`
}

func (s *Server) handlePendingRuns(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	entries, err := s.orch.PendingRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: pending runs: %w", err)
	}
	runs := make([]pendingRun, 0, len(entries))
	for _, e := range entries {
		runs = append(runs, pendingRun{
			RunID:     e.RunID,
			ActionID:  e.ActionID,
			State:     string(e.State),
			StartedAt: e.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal pending runs: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      pendingRunsURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

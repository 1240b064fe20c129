// Package invoke starts backend runs.
//
// An invocation carries its idempotency key in the Idempotency-Key header,
// outside the logical payload, so the backend can detect replays regardless of
// payload equality. The issuer never retries: a true retry reuses the key, a
// deliberate re-attempt mints a new one, and both are the caller's call.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/telemetry"
	"github.com/ashita-ai/workbench/internal/transport"
)

const invocationsPath = "/workbench/invocations"

// ErrMissingIdempotencyKey is returned when a Request has no key.
var ErrMissingIdempotencyKey = errors.New("invoke: idempotency key is required")

// Request is one invocation of a named action.
type Request struct {
	ActionID       string
	Params         map[string]any
	ConversationID string
	PluginID       string
	IdempotencyKey string
	// ConfirmationID is required by the backend for actions flagged as
	// needing human confirmation.
	ConfirmationID string
	// BaseArtifactID is the artifact an edit-and-save flow was viewing. The
	// backend rejects the save with 409 when it is no longer current.
	BaseArtifactID string
}

// Config holds the dependencies of an Issuer.
type Config struct {
	Transport *transport.Client
	Logger    *slog.Logger
	Metrics   *telemetry.Instruments
	// RequiresConfirmation reports actions that must carry a ConfirmationID.
	// Nil means no action is flagged locally.
	RequiresConfirmation func(actionID string) bool
}

// Issuer starts runs. Safe for concurrent use.
type Issuer struct {
	api                  *transport.Client
	logger               *slog.Logger
	metrics              *telemetry.Instruments
	requiresConfirmation func(string) bool
}

// New creates an Issuer.
func New(cfg Config) *Issuer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{
		api:                  cfg.Transport,
		logger:               logger,
		metrics:              cfg.Metrics,
		requiresConfirmation: cfg.RequiresConfirmation,
	}
}

type invocationBody struct {
	ActionID       string         `json:"action_id"`
	Params         map[string]any `json:"params"`
	ConversationID string         `json:"conversation_id"`
	PluginID       string         `json:"plugin_id"`
	ConfirmationID string         `json:"confirmation_id,omitempty"`
}

// Invoke starts a run for req and returns its handle.
func (i *Issuer) Invoke(ctx context.Context, req Request) (model.RunHandle, error) {
	if req.ConversationID == "" {
		return model.RunHandle{}, model.ErrConversationUnsaved
	}
	if req.IdempotencyKey == "" {
		return model.RunHandle{}, ErrMissingIdempotencyKey
	}
	if req.ActionID == "" {
		return model.RunHandle{}, fmt.Errorf("invoke: action id is required")
	}
	if req.ConfirmationID == "" && i.requiresConfirmation != nil && i.requiresConfirmation(req.ActionID) {
		i.logger.Warn("invoke: action requires confirmation but none was supplied",
			"action_id", req.ActionID)
	}

	params := req.Params
	if params == nil {
		params = map[string]any{}
	}
	if req.BaseArtifactID != "" {
		merged := make(map[string]any, len(params)+1)
		for k, v := range params {
			merged[k] = v
		}
		merged["base_artifact_id"] = req.BaseArtifactID
		params = merged
	}

	header := http.Header{}
	header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := i.api.Send(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   invocationsPath,
		Header: header,
		Body: invocationBody{
			ActionID:       req.ActionID,
			Params:         params,
			ConversationID: req.ConversationID,
			PluginID:       req.PluginID,
			ConfirmationID: req.ConfirmationID,
		},
	})
	if err != nil {
		i.metrics.RecordInvoke(ctx, req.ActionID, "transport_error")
		return model.RunHandle{}, fmt.Errorf("invoke %s: %w", req.ActionID, err)
	}
	if !resp.OK() {
		werr := classify(resp, req.PluginID != "")
		i.metrics.RecordInvoke(ctx, req.ActionID, string(werr.Kind))
		i.logger.Warn("invoke: rejected",
			"action_id", req.ActionID, "status", resp.StatusCode, "kind", werr.Kind)
		return model.RunHandle{}, fmt.Errorf("invoke %s: %w", req.ActionID, werr)
	}

	var handle model.RunHandle
	if err := resp.Decode(&handle); err != nil {
		return model.RunHandle{}, fmt.Errorf("invoke %s: %w", req.ActionID, err)
	}
	if handle.RunID == 0 {
		return model.RunHandle{}, fmt.Errorf("invoke %s: %w", req.ActionID,
			model.NewError(model.KindContractViolation, resp.StatusCode, "response carries no run_id", resp.Body))
	}

	i.metrics.RecordInvoke(ctx, req.ActionID, "ok")
	i.logger.Info("invoke: run started",
		"action_id", req.ActionID, "run_id", handle.RunID, "invocation_id", handle.InvocationID)
	return handle, nil
}

// classify maps a rejected invocation. 403 means plugin_disabled when the
// call was plugin-scoped.
func classify(resp *transport.Response, pluginScoped bool) *model.Error {
	werr := transport.ErrorFromResponse(resp, model.KindInvocationFailed)
	switch werr.Kind {
	case model.KindForbidden:
		if pluginScoped {
			werr.Kind = model.KindPluginDisabled
		}
	case model.KindNotFound:
		werr.Kind = model.KindInvocationFailed
	}
	return werr
}

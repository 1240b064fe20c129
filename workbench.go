// Package workbench is the client for running admin actions on a workbench
// backend.
//
// Every action runs asynchronously. The client starts a run under an
// idempotency key, polls it with bounded backoff until it settles or the
// caller's wait budget runs out, and interprets the newest artifact into a
// one-paragraph summary:
//
//	wb, err := workbench.New(ctx,
//	    workbench.WithConversation(conversationID, pluginID),
//	    workbench.WithLogger(logger),
//	)
//	if err != nil { ... }
//	defer wb.Close()
//
//	out, err := wb.Run(ctx, workbench.Request{
//	    ActionID:       "admin.create.school",
//	    Params:         map[string]any{"name": "North"},
//	    IdempotencyKey: workbench.IdempotencyKey("admin.create.school", messageID),
//	}, 0)
//
// A wait that runs out of time is not a failure: the outcome kind is
// OutcomeStillRunning and the run can be observed again later by id.
//
// The import graph enforces a strict no-cycle rule: workbench (root) imports
// internal/*, but internal/* never imports workbench (root).
package workbench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashita-ai/workbench/internal/artifacts"
	"github.com/ashita-ai/workbench/internal/auth"
	"github.com/ashita-ai/workbench/internal/config"
	"github.com/ashita-ai/workbench/internal/events"
	"github.com/ashita-ai/workbench/internal/interpret"
	"github.com/ashita-ai/workbench/internal/invoke"
	"github.com/ashita-ai/workbench/internal/ledger"
	"github.com/ashita-ai/workbench/internal/listing"
	"github.com/ashita-ai/workbench/internal/notifier"
	"github.com/ashita-ai/workbench/internal/policy"
	"github.com/ashita-ai/workbench/internal/poller"
	"github.com/ashita-ai/workbench/internal/ratelimit"
	"github.com/ashita-ai/workbench/internal/runner"
	"github.com/ashita-ai/workbench/internal/runs"
	"github.com/ashita-ai/workbench/internal/telemetry"
	"github.com/ashita-ai/workbench/internal/transport"
	"github.com/ashita-ai/workbench/internal/upload"
)

// Client is the workbench client. Construct with New(), release with Close().
// All methods are safe for concurrent use.
type Client struct {
	cfg          config.Config
	api          *transport.Client
	uploads      *upload.Client
	issuer       *invoke.Issuer
	runs         *runs.Client
	poller       *poller.Poller
	artifacts    *artifacts.Client
	runner       *runner.Runner
	pages        *listing.RunnerFetcher
	notifier     *notifier.Notifier
	ledger       ledger.Store
	policy       *policy.Cache[string]
	events       *events.Streamer
	actions      *config.Actions
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New builds a Client. Configuration comes from WithConfig or, when absent,
// from WORKBENCH_* environment variables; other options override it.
// New does not contact the backend, except that a Postgres or SQLite ledger
// is opened and migrated.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	var cfg config.Config
	if o.config != nil {
		cfg = *o.config
	} else {
		var err error
		if cfg, err = config.Load(); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	o.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	actions, err := config.LoadActions(cfg)
	if err != nil {
		return nil, err
	}

	tokens := o.tokens
	if tokens == nil {
		if tokens, err = tokenSource(cfg); err != nil {
			return nil, err
		}
	}

	otelShutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:       cfg.OTELEndpoint,
		Insecure:       cfg.OTELInsecure,
		ServiceName:    cfg.ServiceName,
		Version:        version,
		ConversationID: cfg.ConversationID,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	metrics, err := telemetry.NewInstruments(telemetry.Meter("github.com/ashita-ai/workbench"))
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	api, err := transport.New(transport.Config{
		BaseURL:    cfg.BaseURL,
		Tokens:     tokens,
		HTTPClient: o.httpClient,
		Timeout:    cfg.RequestTimeout,
		Limiter:    limiter,
		Logger:     logger,
	})
	if err != nil {
		_ = limiter.Close()
		_ = otelShutdown(context.Background())
		return nil, err
	}

	arts, err := artifacts.New(api, cfg.ArtifactCacheBytes, logger)
	if err != nil {
		_ = limiter.Close()
		_ = otelShutdown(context.Background())
		return nil, err
	}

	store := o.ledger
	if store == nil {
		if store, err = ledger.Open(ctx, cfg.LedgerURL, logger); err != nil {
			arts.Close()
			_ = limiter.Close()
			_ = otelShutdown(context.Background())
			return nil, err
		}
	}

	issuer := invoke.New(invoke.Config{
		Transport:            api,
		Logger:               logger,
		Metrics:              metrics,
		RequiresConfirmation: actions.RequiresConfirmation,
	})
	runsClient := runs.New(api, logger)
	p := poller.New(runsClient,
		poller.WithBackoff(poller.Backoff{Initial: cfg.PollInitial, Max: cfg.PollMax, Factor: cfg.PollFactor}),
		poller.WithLogger(logger),
		poller.WithMetrics(metrics),
	)
	r := runner.New(runner.Config{
		Invoker:   issuer,
		Waiter:    p,
		Artifacts: arts,
		Logger:    logger,
	})

	c := &Client{
		cfg:       cfg,
		api:       api,
		uploads:   upload.New(api, cfg.RequestTimeout, logger),
		issuer:    issuer,
		runs:      runsClient,
		poller:    p,
		artifacts: arts,
		runner:    r,
		pages: &listing.RunnerFetcher{
			Pipeline:       r,
			ConversationID: cfg.ConversationID,
			PluginID:       cfg.PluginID,
		},
		notifier: notifier.New(notifier.Config{
			Invoker:    issuer,
			Observer:   r,
			Ledger:     store,
			Logger:     logger,
			TimeoutFor: actions.Timeout,
		}),
		ledger:       store,
		policy:       policy.NewPromptCache(api, cfg.PolicyTTL),
		events:       events.New(api, logger),
		actions:      actions,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}

	logger.Info("workbench client ready",
		"version", version, "base_url", cfg.BaseURL, "ledger", ledgerKind(cfg.LedgerURL, o.ledger != nil))
	return c, nil
}

func tokenSource(cfg config.Config) (auth.TokenSource, error) {
	switch {
	case cfg.Token != "":
		return auth.StaticToken(cfg.Token), nil
	case cfg.JWTPrivateKey != "":
		s, err := auth.LoadSigner(cfg.JWTPrivateKey, cfg.AgentID, 15*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		return s, nil
	case cfg.APIKey != "":
		return auth.NewExchange(cfg.BaseURL, cfg.AgentID, cfg.APIKey, nil), nil
	default:
		return nil, fmt.Errorf("workbench: set WORKBENCH_TOKEN, WORKBENCH_API_KEY or WORKBENCH_JWT_PRIVATE_KEY: %w", auth.ErrNoCredential)
	}
}

func ledgerKind(url string, injected bool) string {
	switch {
	case injected:
		return "custom"
	case url == "":
		return "memory"
	default:
		return "persistent"
	}
}

// fill applies the client's conversation defaults and mints a fresh
// idempotency key when the caller did not supply one.
func (c *Client) fill(req Request) Request {
	if req.ConversationID == "" {
		req.ConversationID = c.cfg.ConversationID
	}
	if req.PluginID == "" {
		req.PluginID = c.cfg.PluginID
	}
	if req.IdempotencyKey == "" && req.ActionID != "" {
		req.IdempotencyKey = invoke.FreshIdempotencyKey(req.ActionID)
	}
	return req
}

func (c *Client) timeoutFor(actionID string, timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return c.actions.Timeout(actionID)
}

// Invoke starts a run and returns as soon as the backend accepted it.
func (c *Client) Invoke(ctx context.Context, req Request) (RunHandle, error) {
	return c.issuer.Invoke(ctx, c.fill(req))
}

// Run starts a run and waits for its outcome. A timeout of zero uses the
// action's configured budget.
func (c *Client) Run(ctx context.Context, req Request, timeout time.Duration) (Outcome, error) {
	req = c.fill(req)
	return c.runner.Run(ctx, req, c.timeoutFor(req.ActionID, timeout))
}

// Status reads a run's current status once.
func (c *Client) Status(ctx context.Context, runID int64) (RunStatus, error) {
	return c.runs.Status(ctx, runID)
}

// WaitForCompletion polls runID until it settles or timeout elapses. A
// timed-out result is not an error.
func (c *Client) WaitForCompletion(ctx context.Context, runID int64, timeout time.Duration) (WaitResult, error) {
	return c.poller.Wait(ctx, runID, timeout)
}

// Observe waits on an already started run and interprets its outcome.
func (c *Client) Observe(ctx context.Context, actionID string, handle RunHandle, timeout time.Duration) (Outcome, error) {
	return c.runner.Observe(ctx, actionID, handle, c.timeoutFor(actionID, timeout))
}

// Start invokes req and observes the run in the background. onSettled is
// called exactly once; a wait that runs out of time reports a single
// still-running settlement.
func (c *Client) Start(ctx context.Context, req Request, timeout time.Duration, onSettled func(Settlement)) (*Task, error) {
	req = c.fill(req)
	return c.notifier.Start(ctx, req, c.timeoutFor(req.ActionID, timeout), onSettled)
}

// Reattach observes a run started earlier, possibly by another process.
func (c *Client) Reattach(handle RunHandle, actionID string, timeout time.Duration, onSettled func(Settlement)) *Task {
	return c.notifier.Reattach(handle, actionID, c.timeoutFor(actionID, timeout), onSettled)
}

// ReattachPending observes every run the ledger still lists as unsettled and
// blocks until each has settled or timed out again.
func (c *Client) ReattachPending(ctx context.Context, timeout time.Duration, onSettled func(Settlement)) ([]Settlement, error) {
	return c.notifier.ReattachPending(ctx, timeout, onSettled)
}

// PendingRuns lists runs that had not settled when last observed.
func (c *Client) PendingRuns(ctx context.Context) ([]LedgerEntry, error) {
	return c.ledger.Pending(ctx)
}

// SubmitInput answers a run waiting for input.
func (c *Client) SubmitInput(ctx context.Context, runID int64, input any) error {
	return c.runs.SubmitInput(ctx, runID, input)
}

// Cancel asks the backend to cancel a run.
func (c *Client) Cancel(ctx context.Context, runID int64) error {
	return c.runs.Cancel(ctx, runID)
}

// Retry asks the backend to re-run a failed run.
func (c *Client) Retry(ctx context.Context, runID int64) error {
	return c.runs.Retry(ctx, runID)
}

// Artifacts returns a run's artifacts, newest first.
func (c *Client) Artifacts(ctx context.Context, runID int64) ([]Artifact, error) {
	return c.artifacts.ListForRun(ctx, runID)
}

// Artifact fetches one artifact by id.
func (c *Client) Artifact(ctx context.Context, artifactID string) (Artifact, error) {
	return c.artifacts.Get(ctx, artifactID)
}

// ListArtifacts queries artifacts across runs.
func (c *Client) ListArtifacts(ctx context.Context, q ArtifactQuery) ([]Artifact, error) {
	return c.artifacts.List(ctx, q)
}

// Interpret summarizes a run's artifacts without any network access.
func Interpret(actionID string, arts []Artifact) Summary {
	return interpret.Interpret(actionID, arts)
}

// FetchPage fetches a single listing page. Re-fetching after a timeout with
// the same request observes the same run.
func (c *Client) FetchPage(ctx context.Context, req PageRequest, timeout time.Duration) (PageResult, error) {
	return c.pages.FetchPage(ctx, req, c.timeoutFor(listing.ActionFor(req.Query.EntityType), timeout))
}

// NewList returns an accumulator that pages through q.
func (c *Client) NewList(q ListQuery) *List {
	if q.PageSize <= 0 {
		q.PageSize = c.cfg.PageSize
	}
	return listing.New(c.pages, q, c.actions.Timeout(listing.ActionFor(q.EntityType)))
}

// Upload stores content in the object store and returns its reference.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (ObjectReference, error) {
	return c.uploads.UploadObject(ctx, req)
}

// UploadSQL substitutes {{ name }} placeholders and uploads the statement.
func (c *Client) UploadSQL(ctx context.Context, sql string, values map[string]string, filename string) (ObjectReference, error) {
	return c.uploads.UploadSQL(ctx, sql, values, filename)
}

// Events follows a run's live event stream. It is informational only.
func (c *Client) Events(ctx context.Context, runID int64, lastEventID string) (<-chan RunEvent, <-chan error) {
	return c.events.Stream(ctx, runID, lastEventID)
}

// PolicyPrompt returns the backend policy prompt, cached for the configured TTL.
func (c *Client) PolicyPrompt(ctx context.Context) (string, error) {
	e, err := c.policy.GetOrRefresh(ctx)
	if err != nil {
		return "", err
	}
	return e.Value, nil
}

// Timeout returns the wait budget for actionID.
func (c *Client) Timeout(actionID string) time.Duration {
	return c.actions.Timeout(actionID)
}

// RequiresConfirmation reports whether actionID needs a confirmation token.
func (c *Client) RequiresConfirmation(actionID string) bool {
	return c.actions.RequiresConfirmation(actionID)
}

// ConversationID returns the default conversation attached to invocations.
func (c *Client) ConversationID() string { return c.cfg.ConversationID }

// PluginID returns the default plugin attached to invocations.
func (c *Client) PluginID() string { return c.cfg.PluginID }

// Version returns the version string passed to WithVersion.
func (c *Client) Version() string { return c.version }

// Close stops background observation and releases the ledger, caches and
// telemetry exporters. Runs in progress keep running on the backend.
func (c *Client) Close() error {
	var errs []error
	if err := c.notifier.Close(); err != nil {
		errs = append(errs, err)
	}
	c.artifacts.Close()
	if err := c.ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ledger: %w", err))
	}
	if err := c.limiter.Close(); err != nil {
		errs = append(errs, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.otelShutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}

// IsStillRunning reports whether out is a wait that ran out of time.
func IsStillRunning(out Outcome) bool { return out.Kind == runner.OutcomeStillRunning }

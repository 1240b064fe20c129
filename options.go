package workbench

import (
	"log/slog"
	"net/http"
)

// Option configures a Client.
type Option func(*resolvedOptions)

// resolvedOptions holds all overrides after applying options.
// Unexported: callers use the With* functions.
type resolvedOptions struct {
	config         *Config
	baseURL        string
	ledgerURL      string
	conversationID string
	pluginID       string
	tokens         TokenSource
	httpClient     *http.Client
	ledger         LedgerStore
	logger         *slog.Logger
	version        string
}

func (o resolvedOptions) apply(cfg *Config) {
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.ledgerURL != "" {
		cfg.LedgerURL = o.ledgerURL
	}
	if o.conversationID != "" {
		cfg.ConversationID = o.conversationID
	}
	if o.pluginID != "" {
		cfg.PluginID = o.pluginID
	}
}

// WithConfig supplies the full configuration instead of reading WORKBENCH_*
// environment variables.
func WithConfig(cfg Config) Option {
	return func(o *resolvedOptions) { o.config = &cfg }
}

// WithBaseURL overrides the backend root URL (WORKBENCH_BASE_URL env var).
func WithBaseURL(url string) Option {
	return func(o *resolvedOptions) { o.baseURL = url }
}

// WithConversation sets the saved conversation and plugin attached to every
// invocation that does not name its own.
func WithConversation(conversationID, pluginID string) Option {
	return func(o *resolvedOptions) {
		o.conversationID = conversationID
		o.pluginID = pluginID
	}
}

// WithToken authenticates with a fixed bearer token.
func WithToken(token string) Option {
	return func(o *resolvedOptions) { o.tokens = staticToken(token) }
}

// WithTokenSource authenticates with a caller-managed credential, e.g. the
// host application's session token.
func WithTokenSource(ts TokenSource) Option {
	return func(o *resolvedOptions) { o.tokens = ts }
}

// WithHTTPClient replaces the instrumented, rate-limited default client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *resolvedOptions) { o.httpClient = c }
}

// WithLedgerURL overrides the run ledger location (WORKBENCH_LEDGER_URL env var).
func WithLedgerURL(url string) Option {
	return func(o *resolvedOptions) { o.ledgerURL = url }
}

// WithLedger injects a ledger implementation. The Client closes it on Close.
func WithLedger(store LedgerStore) Option {
	return func(o *resolvedOptions) { o.ledger = store }
}

// WithLogger sets the structured logger for the Client.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

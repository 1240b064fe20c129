package workbench

import (
	"context"

	"github.com/ashita-ai/workbench/internal/auth"
	"github.com/ashita-ai/workbench/internal/ledger"
)

// TokenSource supplies the bearer token for every request.
// When provided via WithTokenSource, replaces the env-configured credential.
// Implementations must be safe for concurrent use.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// LedgerStore records background runs so they can be re-attached later.
// When provided via WithLedger, replaces the WORKBENCH_LEDGER_URL store.
type LedgerStore = ledger.Store

// LedgerEntry is one recorded run.
type LedgerEntry = ledger.Entry

func staticToken(token string) TokenSource { return auth.StaticToken(token) }

// Compile-time checks that the built-in credentials satisfy TokenSource.
var (
	_ TokenSource = auth.StaticToken("")
	_ TokenSource = (*auth.Exchange)(nil)
	_ TokenSource = (*auth.Signer)(nil)
)

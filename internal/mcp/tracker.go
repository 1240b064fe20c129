package mcp

import (
	"sync"
	"time"

	"github.com/ashita-ai/workbench/internal/invoke"
)

// confirmationTracker hands out single-use confirmation tokens bound to one
// action. workbench_confirm issues them; workbench_invoke consumes them.
//
// Tokens live in memory only. A restarted server forgets outstanding tokens
// and the caller has to confirm again.
type confirmationTracker struct {
	mu     sync.Mutex
	issued map[string]issuedToken
	window time.Duration // how long an unused token stays valid
}

type issuedToken struct {
	actionID string
	issuedAt time.Time
}

func newConfirmationTracker(window time.Duration) *confirmationTracker {
	return &confirmationTracker{
		issued: make(map[string]issuedToken),
		window: window,
	}
}

// Issue returns a fresh token for actionID.
func (t *confirmationTracker) Issue(actionID string) string {
	token := invoke.NewConfirmationToken()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.issued[token] = issuedToken{actionID: actionID, issuedAt: time.Now()}

	// Lazy cleanup keeps abandoned confirmations from piling up.
	if len(t.issued) > 1000 {
		t.purgeStale()
	}
	return token
}

// Consume reports whether token was issued for actionID within the window.
// A token is accepted at most once.
func (t *confirmationTracker) Consume(token, actionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.issued[token]
	if !ok {
		return false
	}
	delete(t.issued, token)
	return it.actionID == actionID && time.Since(it.issuedAt) <= t.window
}

// purgeStale removes expired tokens. Must be called with mu held.
func (t *confirmationTracker) purgeStale() {
	now := time.Now()
	for k, it := range t.issued {
		if now.Sub(it.issuedAt) > t.window {
			delete(t.issued, k)
		}
	}
}

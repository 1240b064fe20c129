package invoke

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const keyPrefix = "wb:"

// IdempotencyKey derives the key for one logical attempt of actionID
// triggered by eventID (e.g. a message id). Retries of the same attempt must
// reuse it; the result is byte-identical for identical inputs.
func IdempotencyKey(actionID, eventID string) string {
	sum := sha256.Sum256([]byte(actionID + "\x00" + eventID))
	return keyPrefix + actionID + ":" + hex.EncodeToString(sum[:])[:32]
}

// FreshIdempotencyKey mints a key for a deliberate new attempt. It never
// collides with a key from IdempotencyKey.
func FreshIdempotencyKey(actionID string) string {
	return keyPrefix + actionID + ":n-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewConfirmationToken returns a fresh token for one human-confirmed action.
// Tokens are never reused.
func NewConfirmationToken() string {
	return uuid.NewString()
}

package policy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/transport"
)

// DefaultTTL is how long a fetched policy prompt is reused.
const DefaultTTL = 5 * time.Minute

// NewPromptCache returns a cache of the backend policy prompt served from
// GET /workbench/policy-prompt.
func NewPromptCache(api *transport.Client, ttl time.Duration) *Cache[string] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return NewCache(ttl, func(ctx context.Context) (string, error) {
		var body struct {
			Prompt string `json:"prompt"`
		}
		if err := api.JSON(ctx, http.MethodGet, "/workbench/policy-prompt", nil, &body); err != nil {
			return "", fmt.Errorf("policy: fetch prompt: %w", err)
		}
		if body.Prompt == "" {
			return "", model.NewError(model.KindContractViolation, http.StatusOK, "policy prompt is empty", nil)
		}
		return body.Prompt, nil
	})
}

// Package artifacts fetches run artifacts.
//
// Artifacts are immutable once created, so single-artifact reads are cached
// in-process. Lists are never cached: a run can keep producing artifacts, and
// index 0 of a list is always the newest.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/transport"
)

// DefaultCacheBytes bounds the single-artifact cache.
const DefaultCacheBytes int64 = 8 << 20

// Client reads artifacts. Safe for concurrent use.
type Client struct {
	api    *transport.Client
	cache  *ristretto.Cache[string, []byte]
	logger *slog.Logger
}

// New creates an artifact client. cacheBytes <= 0 disables caching.
func New(api *transport.Client, cacheBytes int64, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{api: api, logger: logger}
	if cacheBytes > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
			NumCounters: max(cacheBytes/100*10, 1000),
			MaxCost:     cacheBytes,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("artifacts: create cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// ListForRun returns the run's artifacts, newest first.
func (c *Client) ListForRun(ctx context.Context, runID int64) ([]model.Artifact, error) {
	var out []model.Artifact
	path := fmt.Sprintf("/workbench/runs/%d/artifacts", runID)
	if err := c.api.JSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("artifacts: list run %d: %w", runID, err)
	}
	for i := range out {
		if out[i].RunID == 0 {
			out[i].RunID = runID
		}
	}
	return out, nil
}

// Get returns one artifact with its extended fields.
func (c *Client) Get(ctx context.Context, artifactID string) (model.Artifact, error) {
	if c.cache != nil {
		if data, ok := c.cache.Get(artifactID); ok {
			var a model.Artifact
			if err := json.Unmarshal(data, &a); err == nil {
				return a, nil
			}
			c.cache.Del(artifactID)
		}
	}

	var a model.Artifact
	path := "/workbench/artifacts/" + url.PathEscape(artifactID)
	if err := c.api.JSON(ctx, http.MethodGet, path, nil, &a); err != nil {
		return model.Artifact{}, fmt.Errorf("artifacts: get %s: %w", artifactID, err)
	}

	if c.cache != nil {
		if data, err := json.Marshal(a); err == nil {
			c.cache.Set(artifactID, data, int64(len(data)))
			c.cache.Wait()
		}
	}
	return a, nil
}

// List returns artifacts filtered by conversation and/or run.
func (c *Client) List(ctx context.Context, q model.ArtifactQuery) ([]model.Artifact, error) {
	params := url.Values{}
	if q.ConversationID != "" {
		params.Set("conversation_id", q.ConversationID)
	}
	if q.RunID != 0 {
		params.Set("run_id", strconv.FormatInt(q.RunID, 10))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/workbench/artifacts"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var out []model.Artifact
	if err := c.api.JSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("artifacts: list: %w", err)
	}
	return out, nil
}

// Close releases the cache.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

package listing

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/ashita-ai/workbench/internal/interpret"
	"github.com/ashita-ai/workbench/internal/invoke"
	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/runner"
)

// ListActionPrefix is prepended to the entity type to form the list action.
const ListActionPrefix = "admin.list."

// Pipeline runs one invocation to an outcome.
type Pipeline interface {
	Run(ctx context.Context, req invoke.Request, timeout time.Duration) (runner.Outcome, error)
}

// RunnerFetcher fetches pages by running the list action for the entity type
// and decoding its entity-list artifact.
type RunnerFetcher struct {
	Pipeline       Pipeline
	ConversationID string
	PluginID       string
}

// ActionFor returns the list action id for an entity type.
func ActionFor(entityType string) string {
	return ListActionPrefix + entityType
}

// FetchPage implements Fetcher. The idempotency key is derived from the
// session, cursor and attempt, so re-fetching a page that timed out observes
// the same run, while a retry after a failure starts a new one.
func (f *RunnerFetcher) FetchPage(ctx context.Context, req PageRequest, timeout time.Duration) (PageResult, error) {
	actionID := ActionFor(req.Query.EntityType)

	params := make(map[string]any, len(req.Query.Filters)+2)
	maps.Copy(params, req.Query.Filters)
	if req.Query.PageSize > 0 {
		params["page_size"] = req.Query.PageSize
	}
	cursor := "start"
	if req.AfterID != nil {
		params["after_id"] = *req.AfterID
		cursor = strconv.FormatInt(*req.AfterID, 10)
	}
	if req.Attempt > 0 {
		cursor += "#" + strconv.Itoa(req.Attempt)
	}

	out, err := f.Pipeline.Run(ctx, invoke.Request{
		ActionID:       actionID,
		Params:         params,
		ConversationID: f.ConversationID,
		PluginID:       f.PluginID,
		IdempotencyKey: invoke.IdempotencyKey(actionID, req.Session+"/"+req.Query.Key()+"/"+cursor),
	}, timeout)
	if err != nil {
		return PageResult{}, err
	}

	switch out.Kind {
	case runner.OutcomeStillRunning:
		return PageResult{TimedOut: true, RunID: out.Handle.RunID}, nil
	case runner.OutcomeSucceeded:
	default:
		return PageResult{}, out.Err()
	}

	if len(out.Artifacts) == 0 {
		return PageResult{}, &model.Error{
			Kind:    model.KindContractViolation,
			Message: fmt.Sprintf("%s run %d produced no artifact", actionID, out.Handle.RunID),
		}
	}
	page, err := interpret.DecodeListPage(out.Artifacts[0])
	if err != nil {
		return PageResult{}, err
	}
	return PageResult{Page: page, RunID: out.Handle.RunID}, nil
}

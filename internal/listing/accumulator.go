// Package listing accumulates cursor-paginated entity listings.
//
// An Accumulator owns one browsing session for one (entity type, filters)
// query. Pages are appended, never replaced, until an explicit Refresh. The
// backend's cursor must strictly increase and ids must never repeat; either
// violation is surfaced as model.KindContractViolation instead of being
// papered over.
package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/workbench/internal/model"
)

// DefaultTimeout bounds one page fetch.
const DefaultTimeout = 15 * time.Second

// State is the accumulator's lifecycle position.
type State string

const (
	StateIdle        State = "idle"
	StateLoading     State = "loading"
	StateLoaded      State = "loaded"
	StateLoadingMore State = "loading_more"
	StateExhausted   State = "exhausted"
)

// LoadResult says what a FetchInitial or LoadMore call did.
type LoadResult string

const (
	// Loaded means a page was appended.
	Loaded LoadResult = "loaded"
	// LoadIgnored means the call was a no-op: a load was already in flight,
	// the listing is exhausted, or it was refreshed while the page was loading.
	LoadIgnored LoadResult = "ignored"
	// StillLoading means the page fetch timed out; the cursor did not move.
	StillLoading LoadResult = "still_loading"
)

// Query identifies a listing. Filters must be JSON-encodable.
type Query struct {
	EntityType string
	Filters    map[string]any
	PageSize   int
}

// Key is a stable identity for the query. encoding/json sorts map keys, so
// equal filters give equal keys.
func (q Query) Key() string {
	filters, _ := json.Marshal(q.Filters)
	return q.EntityType + "|" + strconv.Itoa(q.PageSize) + "|" + string(filters)
}

// PageRequest is one page fetch. Session changes on every Refresh so that a
// refreshed listing never replays an earlier page's run.
type PageRequest struct {
	Query   Query
	AfterID *int64
	Session string
	// Attempt counts failed fetches of this cursor. A retry after a failure
	// is a new attempt and must not land on the failed run; a retry after a
	// timeout keeps the attempt and re-observes the same run.
	Attempt int
}

// PageResult is a fetched page, or TimedOut when the run did not finish in
// time.
type PageResult struct {
	Page     model.ListPage
	TimedOut bool
	RunID    int64
}

// Fetcher fetches one page.
type Fetcher interface {
	FetchPage(ctx context.Context, req PageRequest, timeout time.Duration) (PageResult, error)
}

// Snapshot is a copy of the accumulated state.
type Snapshot struct {
	State       State
	IDs         []int64
	Items       []json.RawMessage
	HasMore     bool
	NextAfterID *int64
	Total       *int64
	Pages       int
	// RunID is the run behind the latest fetch. After StillLoading it is
	// the run still producing the page.
	RunID int64
}

// Accumulator is safe for concurrent use; at most one fetch runs at a time
// and concurrent loads are ignored rather than queued.
type Accumulator struct {
	fetcher Fetcher
	query   Query
	timeout time.Duration

	mu          sync.Mutex
	state       State
	inFlight    bool
	session     string
	attempt     int
	ids         []int64
	seen        map[int64]struct{}
	items       []json.RawMessage
	hasMore     bool
	nextAfterID *int64
	total       *int64
	pages       int
	lastRunID   int64
}

// New creates an idle accumulator. timeout <= 0 uses DefaultTimeout.
func New(fetcher Fetcher, q Query, timeout time.Duration) *Accumulator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	a := &Accumulator{fetcher: fetcher, query: q, timeout: timeout}
	a.resetLocked()
	return a
}

// Query returns the query this accumulator lists.
func (a *Accumulator) Query() Query { return a.query }

func (a *Accumulator) resetLocked() {
	a.state = StateIdle
	a.session = uuid.NewString()
	a.attempt = 0
	a.ids = nil
	a.seen = make(map[int64]struct{})
	a.items = nil
	a.hasMore = false
	a.nextAfterID = nil
	a.total = nil
	a.pages = 0
	a.lastRunID = 0
}

// FetchInitial loads the first page. It is a no-op unless the accumulator is
// idle.
func (a *Accumulator) FetchInitial(ctx context.Context) (LoadResult, error) {
	return a.load(ctx, StateIdle, StateLoading)
}

// LoadMore appends the next page. It is a no-op while another load is in
// flight, before the first page, or once the listing is exhausted.
func (a *Accumulator) LoadMore(ctx context.Context) (LoadResult, error) {
	return a.load(ctx, StateLoaded, StateLoadingMore)
}

func (a *Accumulator) load(ctx context.Context, from, during State) (LoadResult, error) {
	a.mu.Lock()
	if a.inFlight || a.state != from {
		a.mu.Unlock()
		return LoadIgnored, nil
	}
	a.inFlight = true
	a.state = during
	session, attempt := a.session, a.attempt
	var cursor *int64
	if a.nextAfterID != nil {
		v := *a.nextAfterID
		cursor = &v
	}
	a.mu.Unlock()

	res, err := a.fetcher.FetchPage(ctx, PageRequest{Query: a.query, AfterID: cursor, Session: session, Attempt: attempt}, a.timeout)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != session {
		// Refreshed while loading; the page belongs to a discarded session.
		return LoadIgnored, nil
	}
	a.inFlight = false
	a.state = from

	if err != nil {
		a.attempt++
		return "", fmt.Errorf("listing %s: %w", a.query.EntityType, err)
	}
	a.lastRunID = res.RunID
	if res.TimedOut {
		return StillLoading, nil
	}
	if err := a.validateLocked(res.Page, cursor); err != nil {
		a.attempt++
		return "", err
	}
	a.attempt = 0
	a.appendLocked(res.Page)
	return Loaded, nil
}

func (a *Accumulator) validateLocked(page model.ListPage, cursor *int64) error {
	violation := func(format string, args ...any) error {
		return &model.Error{
			Kind:    model.KindContractViolation,
			Message: fmt.Sprintf("listing %s: ", a.query.EntityType) + fmt.Sprintf(format, args...),
		}
	}

	inPage := make(map[int64]struct{}, len(page.IDs))
	for _, id := range page.IDs {
		if _, dup := a.seen[id]; dup {
			return violation("id %d was already loaded", id)
		}
		if _, dup := inPage[id]; dup {
			return violation("id %d appears twice in one page", id)
		}
		inPage[id] = struct{}{}
	}
	if page.Items != nil && len(page.Items) != len(page.IDs) {
		return violation("page has %d ids but %d items", len(page.IDs), len(page.Items))
	}
	if page.HasMore {
		if page.NextAfterID == nil {
			return violation("has_more is set without next_after_id")
		}
		if cursor != nil && *page.NextAfterID <= *cursor {
			return violation("cursor did not advance (%d after %d)", *page.NextAfterID, *cursor)
		}
	}
	return nil
}

func (a *Accumulator) appendLocked(page model.ListPage) {
	for _, id := range page.IDs {
		a.seen[id] = struct{}{}
	}
	a.ids = append(a.ids, page.IDs...)
	a.items = append(a.items, page.Items...)
	a.total = page.Total
	a.pages++

	a.hasMore = page.HasMore
	if page.HasMore {
		v := *page.NextAfterID
		a.nextAfterID = &v
		a.state = StateLoaded
	} else {
		a.nextAfterID = nil
		a.state = StateExhausted
	}
}

// Refresh discards everything accumulated and returns to idle. A load in
// flight finishes but its page is dropped.
func (a *Accumulator) Refresh() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
	a.inFlight = false
}

// Snapshot returns a copy of the accumulated state.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Snapshot{
		State:   a.state,
		IDs:     slices.Clone(a.ids),
		Items:   slices.Clone(a.items),
		HasMore: a.hasMore,
		Total:   a.total,
		Pages:   a.pages,
		RunID:   a.lastRunID,
	}
	if a.nextAfterID != nil {
		v := *a.nextAfterID
		s.NextAfterID = &v
	}
	return s
}

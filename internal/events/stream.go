// Package events follows a run's live Server-Sent Events stream.
//
// The stream is a convenience for showing progress. Completion is still
// decided by polling; a dropped or silent stream changes nothing.
package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/transport"
)

// maxFrameBytes bounds one SSE line.
const maxFrameBytes = 1 << 20

// Streamer opens event streams over an authenticated transport.
type Streamer struct {
	api    *transport.Client
	logger *slog.Logger
}

// New creates a Streamer.
func New(api *transport.Client, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{api: api, logger: logger}
}

// Frame is one raw SSE message.
type Frame struct {
	ID    string
	Event string
	Data  string
}

// Stream opens GET /workbench/runs/{id}/events/stream and delivers decoded
// events until the server closes the stream or ctx is cancelled. lastEventID,
// when non-empty, resumes after that event. The event channel is closed when
// the stream ends; at most one error is sent on the error channel, which is
// closed afterwards. Cancelling ctx ends the stream without an error.
func (s *Streamer) Stream(ctx context.Context, runID int64, lastEventID string) (<-chan model.RunEvent, <-chan error) {
	out := make(chan model.RunEvent)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(out)
		// A stream ended by the caller's context is not an error.
		if err := s.stream(ctx, runID, lastEventID, out); err != nil && ctx.Err() == nil {
			errc <- err
		}
	}()
	return out, errc
}

func (s *Streamer) stream(ctx context.Context, runID int64, lastEventID string, out chan<- model.RunEvent) error {
	path := fmt.Sprintf("/workbench/runs/%d/events/stream", runID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.api.BaseURL()+path, nil)
	if err != nil {
		return fmt.Errorf("events: create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	if err := s.api.Authorize(ctx, req); err != nil {
		return err
	}

	// The shared client's overall timeout would cut a long stream short.
	client := *s.api.HTTPClient()
	client.Timeout = 0
	resp, err := client.Do(req)
	if err != nil {
		return &model.Error{Kind: model.KindTransport, Message: "GET " + path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return transport.ErrorFromResponse(&transport.Response{
			StatusCode: resp.StatusCode, Header: resp.Header, Body: body,
		}, model.KindRequestFailed)
	}

	s.logger.Debug("events: stream opened", "run_id", runID)
	return ReadFrames(resp.Body, func(f Frame) error {
		ev, err := decodeFrame(f)
		if err != nil {
			s.logger.Warn("events: skipping malformed frame", "run_id", runID, "id", f.ID, "error", err)
			return nil
		}
		select {
		case out <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// ReadFrames parses an SSE body and calls fn for every message carrying data.
// Comment lines (keepalives) are ignored. Multiple data lines are joined with
// newlines.
func ReadFrames(r io.Reader, fn func(Frame) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	var (
		cur  Frame
		data []string
	)
	flush := func() error {
		if len(data) == 0 {
			cur = Frame{}
			return nil
		}
		cur.Data = strings.Join(data, "\n")
		f := cur
		cur, data = Frame{}, data[:0]
		return fn(f)
	}

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			cur.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, "id:"):
			cur.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		}
	}
	if err := sc.Err(); err != nil {
		return &model.Error{Kind: model.KindTransport, Message: "read event stream", Err: err}
	}
	return flush()
}

func decodeFrame(f Frame) (model.RunEvent, error) {
	var ev model.RunEvent
	if err := json.Unmarshal([]byte(f.Data), &ev); err != nil {
		return model.RunEvent{}, fmt.Errorf("events: decode frame: %w", err)
	}
	if ev.Type == "" {
		ev.Type = f.Event
	}
	if ev.Seq == 0 && f.ID != "" {
		if n, err := strconv.ParseInt(f.ID, 10, 64); err == nil {
			ev.Seq = n
		}
	}
	return ev, nil
}

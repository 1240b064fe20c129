package events_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/workbench/internal/events"
	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/testutil"
)

func collect(t *testing.T, evc <-chan model.RunEvent, errc <-chan error) ([]model.RunEvent, error) {
	t.Helper()
	var got []model.RunEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-evc:
			if !ok {
				return got, <-errc
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestStreamDeliversStateEvents(t *testing.T) {
	b := testutil.NewBackend(t)
	h := b.StartRun(testutil.Succeeds(2))
	s := events.New(b.Transport(t), testutil.TestLogger())

	evc, errc := s.Stream(context.Background(), h.RunID, "")
	got, err := collect(t, evc, errc)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, "run.state", got[0].Type)
	assert.Equal(t, model.RunStateRunning, got[0].State)
	assert.Equal(t, model.RunStateSucceeded, got[2].State)

	// The stream is observational only.
	assert.Zero(t, b.StatusGets(h.RunID))
}

func TestStreamUnknownRunIsNotFound(t *testing.T) {
	b := testutil.NewBackend(t)
	s := events.New(b.Transport(t), nil)

	evc, errc := s.Stream(context.Background(), 9999, "")
	got, err := collect(t, evc, errc)
	assert.Empty(t, got)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindNotFound))
}

func TestStreamSendsLastEventID(t *testing.T) {
	seen := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("Last-Event-ID")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "id: 8\nevent: run.log\ndata: {\"payload\":{\"line\":\"hi\"}}\n\n")
	}))
	t.Cleanup(srv.Close)
	s := events.New(testutil.TransportFor(t, srv.URL), nil)

	evc, errc := s.Stream(context.Background(), 1, "7")
	got, err := collect(t, evc, errc)
	require.NoError(t, err)
	assert.Equal(t, "7", <-seen)
	require.Len(t, got, 1)
	assert.Equal(t, int64(8), got[0].Seq)
	assert.Equal(t, "run.log", got[0].Type)
	assert.JSONEq(t, `{"line":"hi"}`, string(got[0].Payload))
}

func TestStreamCancelEndsQuietly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	s := events.New(testutil.TransportFor(t, srv.URL), nil)

	ctx, cancel := context.WithCancel(context.Background())
	evc, errc := s.Stream(ctx, 1, "")
	time.AfterFunc(30*time.Millisecond, cancel)

	got, err := collect(t, evc, errc)
	assert.Empty(t, got)
	assert.NoError(t, err)
}

func TestReadFrames(t *testing.T) {
	body := ":keepalive\n\n" +
		"id: 1\r\nevent: run.state\r\ndata: {\"a\":1}\r\n\r\n" +
		"event: multi\ndata: one\ndata: two\n\n" +
		"event: empty\n\n" +
		"data: tail"

	var frames []events.Frame
	err := events.ReadFrames(strings.NewReader(body), func(f events.Frame) error {
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, events.Frame{ID: "1", Event: "run.state", Data: `{"a":1}`}, frames[0])
	assert.Equal(t, "one\ntwo", frames[1].Data)
	assert.Equal(t, events.Frame{Data: "tail"}, frames[2])
}

package testutil

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ashita-ai/workbench/internal/auth"
	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/transport"
)

// TestToken is the only bearer token the fake backend accepts.
const TestToken = "test-token-xyz"

// Invocation is one POST /workbench/invocations as the backend saw it.
type Invocation struct {
	ActionID       string
	Params         map[string]any
	ConversationID string
	PluginID       string
	ConfirmationID string
	IdempotencyKey string
	Handle         model.RunHandle
	Replayed       bool
}

// RunScript drives a fake run. Each status poll advances one position in
// States and then sticks on the last entry.
type RunScript struct {
	States        []model.RunState
	FailureReason string
	Artifacts     []model.Artifact // newest first
}

// Succeeds returns a script that is running for `polls` observations and
// then succeeds with the given artifacts.
func Succeeds(polls int, artifacts ...model.Artifact) RunScript {
	states := make([]model.RunState, 0, polls+1)
	for range polls {
		states = append(states, model.RunStateRunning)
	}
	return RunScript{States: append(states, model.RunStateSucceeded), Artifacts: artifacts}
}

// RunsForever returns a script that never leaves the running state.
func RunsForever() RunScript {
	return RunScript{States: []model.RunState{model.RunStateRunning}}
}

// Fails returns a script that fails after `polls` running observations.
func Fails(polls int, reason string) RunScript {
	s := Succeeds(polls)
	s.States[len(s.States)-1] = model.RunStateFailed
	s.FailureReason = reason
	return s
}

type fakeRun struct {
	script RunScript
	polls  int
}

func (r *fakeRun) current() model.RunState {
	if len(r.script.States) == 0 {
		return model.RunStateSucceeded
	}
	i := min(r.polls, len(r.script.States)-1)
	return r.script.States[i]
}

// PresignCall records one presign request.
type PresignCall struct {
	Purpose     string
	ContentType string
	Filename    string
	SHA256      string
	ObjectKey   string
}

// Backend is an in-process fake of the workbench HTTP surface.
type Backend struct {
	Server *httptest.Server

	// Script decides how a new invocation behaves. Defaults to Succeeds(0).
	Script func(inv Invocation) RunScript
	// InvokeStatus, when non-zero, rejects every invocation with this status.
	InvokeStatus int
	InvokeBody   string
	// PolicyPrompt is served from GET /workbench/policy-prompt.
	PolicyPrompt string

	mu          sync.Mutex
	nextRunID   int64
	runs        map[int64]*fakeRun
	byKey       map[string]model.RunHandle
	invocations []Invocation
	presigns    []PresignCall
	uploads     map[string][]byte
	inputs      map[int64][]json.RawMessage
	cancelled   map[int64]bool
	retried     map[int64]int
	statusGets  map[int64]int
	policyGets  int
	artifactGet map[string]int
}

// NewBackend starts a fake backend that is closed with t.Cleanup.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	b := &Backend{
		nextRunID:   100,
		runs:        make(map[int64]*fakeRun),
		byKey:       make(map[string]model.RunHandle),
		uploads:     make(map[string][]byte),
		inputs:      make(map[int64][]json.RawMessage),
		cancelled:   make(map[int64]bool),
		retried:     make(map[int64]int),
		statusGets:  make(map[int64]int),
		artifactGet: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /workbench/invocations", b.authed(b.handleInvoke))
	mux.HandleFunc("GET /workbench/runs/{id}", b.authed(b.handleStatus))
	mux.HandleFunc("GET /workbench/runs/{id}/artifacts", b.authed(b.handleRunArtifacts))
	mux.HandleFunc("GET /workbench/runs/{id}/events/stream", b.authed(b.handleEvents))
	mux.HandleFunc("POST /workbench/runs/{id}/input", b.authed(b.handleInput))
	mux.HandleFunc("POST /workbench/runs/{id}/cancel", b.authed(b.handleCancel))
	mux.HandleFunc("POST /workbench/runs/{id}/retry", b.authed(b.handleRetry))
	mux.HandleFunc("GET /workbench/artifacts/{id}", b.authed(b.handleArtifact))
	mux.HandleFunc("GET /workbench/artifacts", b.authed(b.handleArtifactList))
	mux.HandleFunc("POST /workbench/object-store/presign-upload", b.authed(b.handlePresign))
	mux.HandleFunc("PUT /upload/{key...}", b.handleUpload)
	mux.HandleFunc("GET /workbench/policy-prompt", b.authed(b.handlePolicy))

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Server.Close)
	return b
}

// URL returns the fake's base URL.
func (b *Backend) URL() string { return b.Server.URL }

// Transport returns a transport.Client authenticated for this backend.
func (b *Backend) Transport(t *testing.T) *transport.Client {
	t.Helper()
	return TransportFor(t, b.URL())
}

// TransportFor returns a transport.Client for any test server, using TestToken.
func TransportFor(t *testing.T, baseURL string) *transport.Client {
	t.Helper()
	c, err := transport.New(transport.Config{
		BaseURL: baseURL,
		Tokens:  auth.StaticToken(TestToken),
		Timeout: 5 * time.Second,
		Logger:  TestLogger(),
	})
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}
	return c
}

// StartRun registers a run directly, bypassing the invocation endpoint.
func (b *Backend) StartRun(script RunScript) model.RunHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startRunLocked(script)
}

func (b *Backend) startRunLocked(script RunScript) model.RunHandle {
	b.nextRunID++
	id := b.nextRunID
	b.runs[id] = &fakeRun{script: script}
	return model.RunHandle{InvocationID: fmt.Sprintf("inv-%d", id), RunID: id}
}

// Invocations returns every invocation received, replays included.
func (b *Backend) Invocations() []Invocation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Invocation(nil), b.invocations...)
}

// Presigns returns every presign call received.
func (b *Backend) Presigns() []PresignCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]PresignCall(nil), b.presigns...)
}

// Uploaded returns the bytes PUT for objectKey.
func (b *Backend) Uploaded(objectKey string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.uploads[objectKey]
	return data, ok
}

// UploadCount returns the number of objects uploaded.
func (b *Backend) UploadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.uploads)
}

// StatusGets returns how many times the run's status was fetched.
func (b *Backend) StatusGets(runID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusGets[runID]
}

// ArtifactGets returns how many times the single artifact was fetched.
func (b *Backend) ArtifactGets(artifactID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.artifactGet[artifactID]
}

// PolicyGets returns the number of policy prompt fetches.
func (b *Backend) PolicyGets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.policyGets
}

// Inputs returns the input payloads submitted to a run.
func (b *Backend) Inputs(runID int64) []json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]json.RawMessage(nil), b.inputs[runID]...)
}

// Cancelled reports whether a cancel was requested for the run.
func (b *Backend) Cancelled(runID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled[runID]
}

// Retried returns how many retries were requested for the run.
func (b *Backend) Retried(runID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retried[runID]
}

func (b *Backend) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+TestToken {
			WriteJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"code": "UNAUTHORIZED", "message": "bad token"},
			})
			return
		}
		next(w, r)
	}
}

func (b *Backend) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActionID       string         `json:"action_id"`
		Params         map[string]any `json:"params"`
		ConversationID string         `json:"conversation_id"`
		PluginID       string         `json:"plugin_id"`
		ConfirmationID string         `json:"confirmation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	inv := Invocation{
		ActionID:       body.ActionID,
		Params:         body.Params,
		ConversationID: body.ConversationID,
		PluginID:       body.PluginID,
		ConfirmationID: body.ConfirmationID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.InvokeStatus != 0 {
		b.invocations = append(b.invocations, inv)
		w.WriteHeader(b.InvokeStatus)
		_, _ = io.WriteString(w, b.InvokeBody)
		return
	}

	if h, ok := b.byKey[inv.IdempotencyKey]; ok && inv.IdempotencyKey != "" {
		inv.Handle = h
		inv.Replayed = true
		b.invocations = append(b.invocations, inv)
		WriteJSON(w, http.StatusOK, map[string]any{"invocation_id": h.InvocationID, "run_id": h.RunID})
		return
	}

	script := Succeeds(0)
	if b.Script != nil {
		script = b.Script(inv)
	}
	h := b.startRunLocked(script)
	if inv.IdempotencyKey != "" {
		b.byKey[inv.IdempotencyKey] = h
	}
	inv.Handle = h
	b.invocations = append(b.invocations, inv)
	WriteJSON(w, http.StatusCreated, map[string]any{"invocation_id": h.InvocationID, "run_id": h.RunID})
}

func (b *Backend) run(w http.ResponseWriter, r *http.Request) (int64, *fakeRun, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"message": "bad run id"})
		return 0, nil, false
	}
	run, ok := b.runs[id]
	if !ok {
		WriteJSON(w, http.StatusNotFound, map[string]any{"message": "run not found"})
		return 0, nil, false
	}
	return id, run, true
}

func (b *Backend) handleStatus(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, run, ok := b.run(w, r)
	if !ok {
		return
	}
	b.statusGets[id]++
	state := run.current()
	run.polls++

	resp := map[string]any{"run_id": id, "state": state, "failure_reason": nil, "created_at": time.Now()}
	if state == model.RunStateFailed && run.script.FailureReason != "" {
		resp["failure_reason"] = run.script.FailureReason
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (b *Backend) handleRunArtifacts(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, run, ok := b.run(w, r)
	if !ok {
		return
	}
	arts := run.script.Artifacts
	if arts == nil {
		arts = []model.Artifact{}
	}
	WriteJSON(w, http.StatusOK, arts)
}

func (b *Backend) handleArtifact(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	want := r.PathValue("id")
	b.artifactGet[want]++
	for runID, run := range b.runs {
		for _, a := range run.script.Artifacts {
			if a.ArtifactID == want {
				a.RunID = runID
				WriteJSON(w, http.StatusOK, map[string]any{"data": a})
				return
			}
		}
	}
	WriteJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"code": "NOT_FOUND", "message": "artifact not found"}})
}

func (b *Backend) handleArtifactList(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	runFilter, _ := strconv.ParseInt(r.URL.Query().Get("run_id"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out := []model.Artifact{}
	for runID, run := range b.runs {
		if runFilter != 0 && runID != runFilter {
			continue
		}
		out = append(out, run.script.Artifacts...)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	WriteJSON(w, http.StatusOK, out)
}

func (b *Backend) handleEvents(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	_, run, ok := b.run(w, r)
	var states []model.RunState
	if ok {
		states = append(states, run.script.States...)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	bw := bufio.NewWriter(w)
	_, _ = bw.WriteString(":keepalive\n\n")
	for i, s := range states {
		payload, _ := json.Marshal(map[string]any{"seq": i + 1, "type": "run.state", "state": s})
		fmt.Fprintf(bw, "id: %d\nevent: run.state\ndata: %s\n\n", i+1, payload)
	}
	_ = bw.Flush()
}

func (b *Backend) handleInput(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Input json.RawMessage `json:"input"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	b.mu.Lock()
	defer b.mu.Unlock()
	id, _, ok := b.run(w, r)
	if !ok {
		return
	}
	b.inputs[id] = append(b.inputs[id], body.Input)
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleCancel(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, _, ok := b.run(w, r)
	if !ok {
		return
	}
	b.cancelled[id] = true
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleRetry(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, _, ok := b.run(w, r)
	if !ok {
		return
	}
	b.retried[id]++
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (b *Backend) handlePresign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ContentType string `json:"content_type"`
		Filename    string `json:"filename"`
		Purpose     string `json:"purpose"`
		SHA256      string `json:"sha256"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SHA256 == "" {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"message": "sha256 is required"})
		return
	}
	b.mu.Lock()
	key := fmt.Sprintf("%s/%d-%s", body.Purpose, len(b.presigns)+1, body.SHA256[:12])
	b.presigns = append(b.presigns, PresignCall{
		Purpose: body.Purpose, ContentType: body.ContentType, Filename: body.Filename,
		SHA256: body.SHA256, ObjectKey: key,
	})
	b.mu.Unlock()

	WriteJSON(w, http.StatusOK, map[string]any{
		"upload_url":       b.URL() + "/upload/" + key,
		"required_headers": map[string]string{"Content-Type": body.ContentType, "x-amz-checksum-sha256": body.SHA256},
		"object_key":       key,
		"expires_at":       time.Now().Add(15 * time.Minute),
	})
}

func (b *Backend) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "" {
		http.Error(w, "presigned uploads must not carry credentials", http.StatusBadRequest)
		return
	}
	key := r.PathValue("key")
	data, _ := io.ReadAll(r.Body)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.presigns {
		if p.ObjectKey != key {
			continue
		}
		if r.Header.Get("x-amz-checksum-sha256") != p.SHA256 || r.Header.Get("Content-Type") != p.ContentType {
			http.Error(w, "required headers not echoed", http.StatusForbidden)
			return
		}
		if HashHex(data) != p.SHA256 {
			http.Error(w, "<Error><Code>BadDigest</Code></Error>", http.StatusBadRequest)
			return
		}
		b.uploads[key] = data
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Error(w, "unknown object key", http.StatusNotFound)
}

func (b *Backend) handlePolicy(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.policyGets++
	prompt := b.PolicyPrompt
	b.mu.Unlock()
	WriteJSON(w, http.StatusOK, map[string]any{"prompt": prompt})
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HashHex returns the lowercase hex SHA-256 of data.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

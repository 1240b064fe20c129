package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/workbench/internal/auth"
	"github.com/ashita-ai/workbench/internal/model"
)

func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL: serverURL + "/",
		Tokens:  auth.StaticToken("tok"),
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

type failingTokens struct{}

func (failingTokens) Token(context.Context) (string, error) { return "", auth.ErrNoCredential }

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Tokens: auth.StaticToken("x")})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://localhost"})
	assert.Error(t, err)

	c, err := New(Config{BaseURL: "http://localhost:3010/", Tokens: auth.StaticToken("x")})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3010", c.BaseURL())
	assert.NotNil(t, c.HTTPClient())
}

func TestJSONSendsBearerAndBody(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /echo": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			writeJSON(w, http.StatusOK, map[string]any{"data": body})
		},
	})

	var out map[string]any
	err := newTestClient(t, srv.URL).JSON(context.Background(), http.MethodPost, "/echo", map[string]any{"a": "b"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "b", out["a"])
}

func TestDecodeBareAndEnveloped(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bare object", `{"run_id": 7, "state": "running"}`},
		{"enveloped", `{"data": {"run_id": 7, "state": "running"}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := &Response{StatusCode: 200, Body: []byte(tc.body)}
			var status model.RunStatus
			require.NoError(t, resp.Decode(&status))
			assert.Equal(t, int64(7), status.RunID)
			assert.Equal(t, model.RunStateRunning, status.State)
		})
	}

	t.Run("array", func(t *testing.T) {
		resp := &Response{StatusCode: 200, Body: []byte(`[1,2,3]`)}
		var ids []int64
		require.NoError(t, resp.Decode(&ids))
		assert.Equal(t, []int64{1, 2, 3}, ids)
	})

	t.Run("empty body", func(t *testing.T) {
		resp := &Response{StatusCode: 204}
		var out map[string]any
		assert.NoError(t, resp.Decode(&out))
		assert.Nil(t, out)
	})

	t.Run("malformed", func(t *testing.T) {
		resp := &Response{StatusCode: 200, Body: []byte(`{"run_id": "seven"}`)}
		var status model.RunStatus
		err := resp.Decode(&status)
		assert.True(t, model.IsKind(err, model.KindContractViolation))
	})
}

func TestErrorStatusesMapToKinds(t *testing.T) {
	tests := []struct {
		status int
		want   model.ErrorKind
	}{
		{http.StatusUnauthorized, model.KindUnauthorized},
		{http.StatusForbidden, model.KindForbidden},
		{http.StatusNotFound, model.KindNotFound},
		{http.StatusConflict, model.KindConflict},
		{http.StatusUnprocessableEntity, model.KindRequestFailed},
		{http.StatusInternalServerError, model.KindRequestFailed},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := mockServer(t, map[string]http.HandlerFunc{
				"GET /thing": func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, tc.status, map[string]any{
						"error": map[string]any{"code": "X", "message": "nope"},
					})
				},
			})
			err := newTestClient(t, srv.URL).JSON(context.Background(), http.MethodGet, "/thing", nil, nil)
			require.Error(t, err)

			var werr *model.Error
			require.True(t, errors.As(err, &werr))
			assert.Equal(t, tc.want, werr.Kind)
			assert.Equal(t, tc.status, werr.StatusCode)
			assert.Equal(t, "nope", werr.Message)
		})
	}
}

func TestErrorMessageFallbacks(t *testing.T) {
	resp := &Response{StatusCode: 422, Body: []byte(`{"message": "bad params"}`)}
	assert.Equal(t, "bad params", ErrorFromResponse(resp, model.KindInvocationFailed).Message)

	resp = &Response{StatusCode: 502, Body: []byte(`<html>gateway</html>`)}
	err := ErrorFromResponse(resp, model.KindInvocationFailed)
	assert.Equal(t, model.KindInvocationFailed, err.Kind)
	assert.Equal(t, "Bad Gateway", err.Message)
	assert.Equal(t, "<html>gateway</html>", err.Body)
}

func TestErrorBodyTruncated(t *testing.T) {
	resp := &Response{StatusCode: 500, Body: []byte(strings.Repeat("x", 2000))}
	err := ErrorFromResponse(resp, model.KindRequestFailed)
	assert.LessOrEqual(t, len([]rune(err.Body)), model.MaxBodyPreview+1)
}

func TestTokenFailureIsUnauthorized(t *testing.T) {
	c, err := New(Config{BaseURL: "http://127.0.0.1:1", Tokens: failingTokens{}})
	require.NoError(t, err)
	_, err = c.Send(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	assert.True(t, model.IsUnauthorized(err))
	assert.ErrorIs(t, err, auth.ErrNoCredential)
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url).Send(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	assert.True(t, model.IsKind(err, model.KindTransport))
}

func TestTimeoutHandling(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /slow": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
			writeJSON(w, http.StatusOK, map[string]any{})
		},
	})
	c, err := New(Config{BaseURL: srv.URL, Tokens: auth.StaticToken("tok"), Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), Request{Method: http.MethodGet, Path: "/slow"})
	assert.True(t, model.IsKind(err, model.KindTransport))
}

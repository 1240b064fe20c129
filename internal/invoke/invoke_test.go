package invoke_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/workbench/internal/invoke"
	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/testutil"
)

func newIssuer(t *testing.T) (*invoke.Issuer, *testutil.Backend) {
	t.Helper()
	b := testutil.NewBackend(t)
	return invoke.New(invoke.Config{Transport: b.Transport(t), Logger: testutil.TestLogger()}), b
}

func baseRequest() invoke.Request {
	return invoke.Request{
		ActionID:       "admin.list.schools",
		Params:         map[string]any{"page_size": 50},
		ConversationID: "conv-1",
		PluginID:       "",
		IdempotencyKey: invoke.IdempotencyKey("admin.list.schools", "msg-1"),
	}
}

func TestIdempotencyKeyStability(t *testing.T) {
	a := invoke.IdempotencyKey("admin.delete.school", "msg-123")
	b := invoke.IdempotencyKey("admin.delete.school", "msg-123")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "wb:admin.delete.school:"))

	assert.NotEqual(t, a, invoke.IdempotencyKey("admin.delete.school", "msg-124"))
	assert.NotEqual(t, a, invoke.IdempotencyKey("admin.update.school", "msg-123"))

	fresh1 := invoke.FreshIdempotencyKey("admin.delete.school")
	fresh2 := invoke.FreshIdempotencyKey("admin.delete.school")
	assert.NotEqual(t, fresh1, fresh2)
	assert.NotEqual(t, a, fresh1)
}

func TestConfirmationTokensAreFresh(t *testing.T) {
	seen := map[string]bool{}
	for range 100 {
		tok := invoke.NewConfirmationToken()
		assert.False(t, seen[tok])
		seen[tok] = true
	}
}

func TestInvokeSendsKeyAsHeader(t *testing.T) {
	issuer, b := newIssuer(t)
	req := baseRequest()
	req.ConfirmationID = "confirm-1"
	req.PluginID = "plugin-admin"

	handle, err := issuer.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.NotZero(t, handle.RunID)
	assert.NotEmpty(t, handle.InvocationID)

	invs := b.Invocations()
	require.Len(t, invs, 1)
	assert.Equal(t, req.IdempotencyKey, invs[0].IdempotencyKey)
	assert.Equal(t, "admin.list.schools", invs[0].ActionID)
	assert.Equal(t, "conv-1", invs[0].ConversationID)
	assert.Equal(t, "plugin-admin", invs[0].PluginID)
	assert.Equal(t, "confirm-1", invs[0].ConfirmationID)
	assert.EqualValues(t, 50, invs[0].Params["page_size"])
	_, keyInParams := invs[0].Params["idempotency_key"]
	assert.False(t, keyInParams)
}

func TestRetryWithSameKeyIsDeduplicated(t *testing.T) {
	issuer, b := newIssuer(t)
	req := baseRequest()

	first, err := issuer.Invoke(context.Background(), req)
	require.NoError(t, err)
	second, err := issuer.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	req.IdempotencyKey = invoke.FreshIdempotencyKey(req.ActionID)
	third, err := issuer.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, third.RunID)

	invs := b.Invocations()
	require.Len(t, invs, 3)
	assert.True(t, invs[1].Replayed)
	assert.False(t, invs[2].Replayed)
}

func TestConversationUnsavedFailsBeforeNetwork(t *testing.T) {
	issuer, b := newIssuer(t)
	req := baseRequest()
	req.ConversationID = ""

	_, err := issuer.Invoke(context.Background(), req)
	assert.True(t, model.IsKind(err, model.KindConversationUnsaved))
	assert.Empty(t, b.Invocations())
}

func TestMissingKeyIsRejectedLocally(t *testing.T) {
	issuer, b := newIssuer(t)
	req := baseRequest()
	req.IdempotencyKey = ""

	_, err := issuer.Invoke(context.Background(), req)
	assert.ErrorIs(t, err, invoke.ErrMissingIdempotencyKey)
	assert.Empty(t, b.Invocations())
}

func TestInvokeStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		pluginID string
		want     model.ErrorKind
	}{
		{"401", http.StatusUnauthorized, "", model.KindUnauthorized},
		{"403", http.StatusForbidden, "", model.KindForbidden},
		{"403 plugin scoped", http.StatusForbidden, "plugin-admin", model.KindPluginDisabled},
		{"409", http.StatusConflict, "", model.KindConflict},
		{"404", http.StatusNotFound, "", model.KindInvocationFailed},
		{"422", http.StatusUnprocessableEntity, "", model.KindInvocationFailed},
		{"500", http.StatusInternalServerError, "", model.KindInvocationFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			issuer, b := newIssuer(t)
			b.InvokeStatus = tc.status
			b.InvokeBody = `{"message":"unknown action params: foo"}`

			req := baseRequest()
			req.PluginID = tc.pluginID
			_, err := issuer.Invoke(context.Background(), req)
			require.Error(t, err)

			var werr *model.Error
			require.ErrorAs(t, err, &werr)
			assert.Equal(t, tc.want, werr.Kind)
			assert.Equal(t, tc.status, werr.StatusCode)
			assert.Contains(t, werr.Body, "unknown action params")
			assert.Len(t, b.Invocations(), 1, "no automatic retry")
		})
	}
}

func TestBaseArtifactIDThreadedIntoParams(t *testing.T) {
	issuer, b := newIssuer(t)
	req := baseRequest()
	req.ActionID = "admin.patch.apply"
	req.BaseArtifactID = "art-7"

	_, err := issuer.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "art-7", b.Invocations()[0].Params["base_artifact_id"])
	_, mutated := req.Params["base_artifact_id"]
	assert.False(t, mutated, "caller params must not be modified")
}

func TestConfirmationWarningStillSends(t *testing.T) {
	b := testutil.NewBackend(t)
	var mu sync.Mutex
	var asked []string
	issuer := invoke.New(invoke.Config{
		Transport: b.Transport(t),
		Logger:    testutil.TestLogger(),
		RequiresConfirmation: func(actionID string) bool {
			mu.Lock()
			defer mu.Unlock()
			asked = append(asked, actionID)
			return true
		},
	})

	_, err := issuer.Invoke(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"admin.list.schools"}, asked)
	assert.Len(t, b.Invocations(), 1)
}

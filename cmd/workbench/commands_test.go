package main

import (
	"flag"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/workbench"
)

type confirmSet map[string]bool

func (c confirmSet) RequiresConfirmation(actionID string) bool { return c[actionID] }

func parseRequestFlags(t *testing.T, args ...string) requestFlags {
	t.Helper()
	fs := flag.NewFlagSet("invoke", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var rf requestFlags
	rf.register(fs)
	require.NoError(t, fs.Parse(args))
	return rf
}

func TestChooseKey(t *testing.T) {
	const action = "admin.csv_import"

	assert.Equal(t, "caller-key", chooseKey(action, "caller-key", "msg-1"))

	fromEvent := chooseKey(action, "", "msg-1")
	assert.Equal(t, workbench.IdempotencyKey(action, "msg-1"), fromEvent)
	assert.Equal(t, fromEvent, chooseKey(action, "", "msg-1"))
	assert.NotEqual(t, fromEvent, chooseKey(action, "", "msg-2"))

	a, b := chooseKey(action, "", ""), chooseKey(action, "", "")
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b, "no key and no event is a new attempt")
}

func TestRequestFlags_BuildsRequest(t *testing.T) {
	rf := parseRequestFlags(t,
		"-action", "admin.create.school",
		"-params", `{"name":"Northside","grades":[9,10]}`,
		"-event", "msg-7",
	)
	req, err := rf.request(confirmSet{})
	require.NoError(t, err)

	assert.Equal(t, "admin.create.school", req.ActionID)
	assert.Equal(t, "Northside", req.Params["name"])
	assert.Equal(t, []any{float64(9), float64(10)}, req.Params["grades"])
	assert.Equal(t, workbench.IdempotencyKey("admin.create.school", "msg-7"), req.IdempotencyKey)
	assert.Empty(t, req.ConfirmationID)
}

func TestRequestFlags_FreshKeyPerInvocation(t *testing.T) {
	rf := parseRequestFlags(t, "-action", "admin.create.school")
	first, err := rf.request(confirmSet{})
	require.NoError(t, err)
	second, err := rf.request(confirmSet{})
	require.NoError(t, err)

	assert.NotEmpty(t, first.IdempotencyKey)
	assert.NotEqual(t, first.IdempotencyKey, second.IdempotencyKey)
}

func TestRequestFlags_Confirmation(t *testing.T) {
	needs := confirmSet{"admin.bulk_delete.students": true}

	t.Run("yes mints a token", func(t *testing.T) {
		rf := parseRequestFlags(t, "-action", "admin.bulk_delete.students", "-yes")
		req, err := rf.request(needs)
		require.NoError(t, err)
		assert.NotEmpty(t, req.ConfirmationID)
	})

	t.Run("explicit token wins", func(t *testing.T) {
		rf := parseRequestFlags(t, "-action", "admin.bulk_delete.students", "-yes", "-confirm", "tok-1")
		req, err := rf.request(needs)
		require.NoError(t, err)
		assert.Equal(t, "tok-1", req.ConfirmationID)
	})

	t.Run("yes is ignored when not needed", func(t *testing.T) {
		rf := parseRequestFlags(t, "-action", "admin.create.school", "-yes")
		req, err := rf.request(needs)
		require.NoError(t, err)
		assert.Empty(t, req.ConfirmationID)
	})

	t.Run("no yes leaves it to the backend", func(t *testing.T) {
		rf := parseRequestFlags(t, "-action", "admin.bulk_delete.students")
		req, err := rf.request(needs)
		require.NoError(t, err)
		assert.Empty(t, req.ConfirmationID)
	})
}

func TestRequestFlags_Errors(t *testing.T) {
	rf := parseRequestFlags(t)
	_, err := rf.request(confirmSet{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-action")

	rf = parseRequestFlags(t, "-action", "admin.create.school", "-params", "[1,2]")
	_, err = rf.request(confirmSet{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-params")
}

func TestImportRequest_KeyChoice(t *testing.T) {
	ref := workbench.ObjectReference{ObjectKey: "uploads/a.csv", SHA256: "abc123", MediaType: "text/csv"}

	first := importRequest("admin.csv_import", "students", "", "", false, ref)
	again := importRequest("admin.csv_import", "students", "", "", false, ref)
	assert.NotEqual(t, first.IdempotencyKey, again.IdempotencyKey,
		"re-importing the same bytes starts a new run")
	assert.Equal(t, "students", first.Params["entity_type"])
	assert.Equal(t, ref, first.Params["object"])
	assert.Empty(t, first.ConfirmationID)

	byEvent := importRequest("admin.csv_import", "students", "", "msg-3", true, ref)
	assert.Equal(t, workbench.IdempotencyKey("admin.csv_import", "msg-3"), byEvent.IdempotencyKey)
	assert.NotEmpty(t, byEvent.ConfirmationID)

	byKey := importRequest("admin.csv_import", "students", "k-1", "msg-3", false, ref)
	assert.Equal(t, "k-1", byKey.IdempotencyKey)
}

func TestStillLoadingMessage_NamesRun(t *testing.T) {
	msg := stillLoadingMessage(812)
	assert.Contains(t, msg, "run 812")
	assert.Contains(t, msg, "workbench wait -run 812")
	assert.Contains(t, msg, "workbench artifacts -run 812")
	assert.NotContains(t, msg, "again")

	assert.Equal(t, "page is still loading", stillLoadingMessage(0))
}

package runs_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/runs"
	"github.com/ashita-ai/workbench/internal/testutil"
)

func TestStatusIsNeverCached(t *testing.T) {
	b := testutil.NewBackend(t)
	c := runs.New(b.Transport(t), testutil.TestLogger())
	h := b.StartRun(testutil.Succeeds(1))

	first, err := c.Status(context.Background(), h.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateRunning, first.State)
	assert.Equal(t, h.RunID, first.RunID)

	second, err := c.Status(context.Background(), h.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateSucceeded, second.State)
	assert.Equal(t, 2, b.StatusGets(h.RunID))
}

func TestStatusFailureReason(t *testing.T) {
	b := testutil.NewBackend(t)
	c := runs.New(b.Transport(t), nil)
	h := b.StartRun(testutil.Fails(0, "csv row 12: unknown district"))

	status, err := c.Status(context.Background(), h.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateFailed, status.State)
	assert.Equal(t, "csv row 12: unknown district", status.Reason())
}

func TestStatusUnknownRun(t *testing.T) {
	b := testutil.NewBackend(t)
	c := runs.New(b.Transport(t), nil)

	_, err := c.Status(context.Background(), 999999)
	assert.True(t, model.IsKind(err, model.KindNotFound))
}

func TestRunControl(t *testing.T) {
	b := testutil.NewBackend(t)
	c := runs.New(b.Transport(t), testutil.TestLogger())
	h := b.StartRun(testutil.RunsForever())
	ctx := context.Background()

	require.NoError(t, c.SubmitInput(ctx, h.RunID, map[string]any{"approve": true}))
	inputs := b.Inputs(h.RunID)
	require.Len(t, inputs, 1)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(inputs[0], &decoded))
	assert.Equal(t, true, decoded["approve"])

	require.NoError(t, c.Cancel(ctx, h.RunID))
	assert.True(t, b.Cancelled(h.RunID))

	require.NoError(t, c.Retry(ctx, h.RunID))
	require.NoError(t, c.Retry(ctx, h.RunID))
	assert.Equal(t, 2, b.Retried(h.RunID))
}

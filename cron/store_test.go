package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/trellis/action"
	"github.com/teranos/trellis/errors"
	trellistesting "github.com/teranos/trellis/internal/testing"
)

func notifySpec() action.Spec {
	return action.Spec{Type: action.SpecNotify, Params: map[string]string{"channel": "ops"}}
}

func TestStoreCreateValidatesExpression(t *testing.T) {
	store := NewStore(trellistesting.CreateTestDB(t))
	ctx := context.Background()

	job, err := store.Create(ctx, "0 9 * * 1-5", notifySpec())
	require.NoError(t, err)
	assert.Equal(t, StatusActive, job.Status)

	_, err = store.Create(ctx, "not a cron expr", notifySpec())
	assert.True(t, errors.IsInvalidRequestError(err))

	// Six-field expressions are rejected; only standard five-field.
	_, err = store.Create(ctx, "0 0 9 * * 1", notifySpec())
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestStoreGetAndList(t *testing.T) {
	store := NewStore(trellistesting.CreateTestDB(t))
	ctx := context.Background()

	created, err := store.Create(ctx, "*/5 * * * *", notifySpec())
	require.NoError(t, err)

	job, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", job.CronExpr)
	assert.Equal(t, action.SpecNotify, job.Spec.Type)

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))

	active, err := store.List(ctx, StatusActive, 10)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestListActivePagesThroughEveryJob(t *testing.T) {
	store := NewStore(trellistesting.CreateTestDB(t))
	ctx := context.Background()

	want := make(map[string]bool)
	for i := 0; i < 5; i++ {
		job, err := store.Create(ctx, "* * * * *", notifySpec())
		require.NoError(t, err)
		want[job.ID] = true
	}
	paused, err := store.Create(ctx, "* * * * *", notifySpec())
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(ctx, paused.ID, StatusPaused))

	got := make(map[string]bool)
	afterID := ""
	for {
		page, err := store.ListActive(ctx, afterID, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, job := range page {
			assert.Equal(t, StatusActive, job.Status)
			got[job.ID] = true
		}
		afterID = page[len(page)-1].ID
	}
	assert.Equal(t, want, got)
}

func TestStoreStatusTransitions(t *testing.T) {
	store := NewStore(trellistesting.CreateTestDB(t))
	ctx := context.Background()

	job, err := store.Create(ctx, "0 9 * * *", notifySpec())
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus(ctx, job.ID, StatusPaused))
	require.NoError(t, store.UpdateStatus(ctx, job.ID, StatusActive))
	require.NoError(t, store.UpdateStatus(ctx, job.ID, StatusDeleted))

	// Deleted is terminal.
	err = store.UpdateStatus(ctx, job.ID, StatusActive)
	assert.True(t, errors.IsNotFoundError(err))

	// But the row stays readable.
	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, got.Status)

	err = store.UpdateStatus(ctx, job.ID, "resurrected")
	assert.True(t, errors.IsInvalidRequestError(err))
}

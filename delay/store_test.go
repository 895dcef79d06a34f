package delay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/trellis/action"
	"github.com/teranos/trellis/errors"
	trellistesting "github.com/teranos/trellis/internal/testing"
)

func notifySpec() action.Spec {
	return action.Spec{Type: action.SpecNotify, Params: map[string]string{"channel": "ops"}}
}

func TestStoreCreateAndGet(t *testing.T) {
	store := NewStore(trellistesting.CreateTestDB(t))
	ctx := context.Background()

	trigger := time.Now().UTC().AddDate(0, 0, 3).Truncate(time.Second)
	id, err := store.Create(ctx, trigger, 3, "rec1", notifySpec())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	task, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, task.Status)
	assert.Equal(t, 3, task.OffsetDays)
	assert.Equal(t, "rec1", task.Target)
	assert.True(t, task.TriggerDate.Equal(trigger))
	assert.Equal(t, action.SpecNotify, task.Spec.Type)
	assert.Zero(t, task.Attempts)

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreListFiltersByStatus(t *testing.T) {
	store := NewStore(trellistesting.CreateTestDB(t))
	ctx := context.Background()

	first, err := store.Create(ctx, time.Now().Add(-time.Hour), 0, "a", notifySpec())
	require.NoError(t, err)
	_, err = store.Create(ctx, time.Now().Add(time.Hour), 0, "b", notifySpec())
	require.NoError(t, err)

	require.NoError(t, store.Cancel(ctx, first))

	all, err := store.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scheduled, err := store.List(ctx, StatusScheduled, 10)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "b", scheduled[0].Target)
}

func TestStoreCancelOnlyScheduled(t *testing.T) {
	store := NewStore(trellistesting.CreateTestDB(t))
	ctx := context.Background()

	id, err := store.Create(ctx, time.Now().Add(-time.Minute), 0, "rec1", notifySpec())
	require.NoError(t, err)

	claimed, err := store.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Executing tasks are past the point of cancellation.
	err = store.Cancel(ctx, id)
	assert.True(t, errors.IsNotFoundError(err))

	require.NoError(t, store.MarkCompleted(ctx, id))
	err = store.Cancel(ctx, id)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestClaimDueSkipsFutureAndNonScheduled(t *testing.T) {
	store := NewStore(trellistesting.CreateTestDB(t))
	ctx := context.Background()

	due, err := store.Create(ctx, time.Now().Add(-time.Minute), 0, "due", notifySpec())
	require.NoError(t, err)
	_, err = store.Create(ctx, time.Now().Add(time.Hour), 0, "future", notifySpec())
	require.NoError(t, err)
	cancelled, err := store.Create(ctx, time.Now().Add(-time.Minute), 0, "cancelled", notifySpec())
	require.NoError(t, err)
	require.NoError(t, store.Cancel(ctx, cancelled))

	claimed, err := store.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due, claimed[0].ID)
	assert.Equal(t, StatusExecuting, claimed[0].Status)

	// Claiming again finds nothing.
	claimed, err = store.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimDueConcurrentClaimersNeverShareATask(t *testing.T) {
	store := NewStore(trellistesting.CreateTestDB(t))
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := store.Create(ctx, time.Now().Add(-time.Minute), 0, "rec", notifySpec())
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.ClaimDue(ctx, time.Now(), 20)
			assert.NoError(t, err)
			mu.Lock()
			for _, task := range claimed {
				seen[task.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	for id, count := range seen {
		assert.Equalf(t, 1, count, "task %s claimed %d times", id, count)
	}
}

func TestRescheduleTracksAttempts(t *testing.T) {
	store := NewStore(trellistesting.CreateTestDB(t))
	ctx := context.Background()

	id, err := store.Create(ctx, time.Now().Add(-time.Minute), 0, "rec1", notifySpec())
	require.NoError(t, err)

	claimed, err := store.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.Reschedule(ctx, id, "upstream timeout"))

	task, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, task.Status)
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, "upstream timeout", task.LastError)

	// Rescheduling a task nobody is executing fails.
	err = store.Reschedule(ctx, id, "again")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestMarkFailedRequiresExecuting(t *testing.T) {
	store := NewStore(trellistesting.CreateTestDB(t))
	ctx := context.Background()

	id, err := store.Create(ctx, time.Now().Add(-time.Minute), 0, "rec1", notifySpec())
	require.NoError(t, err)

	err = store.MarkFailed(ctx, id, "boom")
	assert.True(t, errors.IsNotFoundError(err))

	_, err = store.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, id, "boom"))

	task, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, "boom", task.LastError)
	assert.Equal(t, 1, task.Attempts)
}

func TestMarkCompletedLeavesAttemptsUntouched(t *testing.T) {
	store := NewStore(trellistesting.CreateTestDB(t))
	ctx := context.Background()

	id, err := store.Create(ctx, time.Now().Add(-time.Minute), 0, "rec1", notifySpec())
	require.NoError(t, err)

	_, err = store.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.NoError(t, store.MarkCompleted(ctx, id))

	// A first-try success carries no failed attempts.
	task, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Zero(t, task.Attempts)

	// One retryable failure before the success leaves exactly one.
	second, err := store.Create(ctx, time.Now().Add(-time.Minute), 0, "rec2", notifySpec())
	require.NoError(t, err)
	_, err = store.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.NoError(t, store.Reschedule(ctx, second, "upstream timeout"))
	_, err = store.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.NoError(t, store.MarkCompleted(ctx, second))

	task, err = store.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 1, task.Attempts)
}

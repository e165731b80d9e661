package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskwatch/internal/cache"
	"taskwatch/internal/models"
)

func rootWithChildren(id string, childIDs ...string) models.Task {
	refs := make([]models.ChildTaskRef, 0, len(childIDs))
	for _, c := range childIDs {
		refs = append(refs, models.ChildTaskRef{Name: "child " + c, ResourceURI: "/api/v1/tasks/" + c})
	}
	return models.Task{ID: id, State: models.StateRunning, ChildTasks: refs}
}

func failedChild(id string, logs ...string) models.Task {
	messages := make([]models.LogMessage, 0, len(logs))
	for _, l := range logs {
		messages = append(messages, models.LogMessage{Message: l, TimestampAt: "2026-01-01T00:00:00Z"})
	}
	return models.Task{
		ID:          id,
		State:       models.StateFailed,
		Error:       &models.TaskError{Error: logs[len(logs)-1]},
		LogMessages: messages,
	}
}

func TestWaitForChildTasks(t *testing.T) {
	ctx := context.Background()

	threeChildren := func() *fakeSource {
		return newFakeSource().
			script("root", rootWithChildren("root", "c1", "c2", "c3")).
			states("c1", models.StateRunning, models.StateSucceeded).
			states("c2", models.StateSucceeded).
			script("c3",
				models.Task{ID: "c3", State: models.StateRunning},
				failedChild("c3", "Creating snapshot", "Snapshot failed: volume busy"),
			)
	}

	t.Run("Should raise ChildTaskFailure with the child's logs", func(t *testing.T) {
		source := threeChildren()
		waiter := newTestWaiter(source, newFakeClock())

		err := waiter.WaitForChildTasks(ctx, "root", 0, true)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrChildTaskFailed)

		var failure *ChildTaskFailure
		require.True(t, errors.As(err, &failure))
		assert.Equal(t, "root", failure.RootTaskID)
		assert.Equal(t, "c3", failure.TaskID)
		assert.Equal(t, "failed", failure.State)
		assert.Equal(t, "Creating snapshot\nSnapshot failed: volume busy", failure.Logs)
		assert.Contains(t, err.Error(), "volume busy")
	})

	t.Run("Should continue past failures when not raising", func(t *testing.T) {
		source := threeChildren()
		waiter := newTestWaiter(source, newFakeClock())

		err := waiter.WaitForChildTasks(ctx, "root", 0, false)
		require.NoError(t, err)

		assert.Equal(t, 2, source.gets["c1"])
		assert.Equal(t, 1, source.gets["c2"])
		// two polls to terminal plus one read of the failure logs
		assert.Equal(t, 3, source.gets["c3"])
		// once to discover, once to confirm nothing new appeared
		assert.Equal(t, 2, source.gets["root"])
	})

	t.Run("Should short-circuit when the count matches", func(t *testing.T) {
		source := threeChildren()
		waiter := newTestWaiter(source, newFakeClock())

		err := waiter.WaitForChildTasks(ctx, "root", 3, true)
		require.NoError(t, err)
		assert.Equal(t, 1, source.gets["root"])
		assert.Zero(t, source.gets["c1"])
		assert.Zero(t, source.gets["c3"])
	})

	t.Run("Should return at once for a childless root", func(t *testing.T) {
		source := newFakeSource().states("lonely", models.StateSucceeded)
		waiter := newTestWaiter(source, newFakeClock())

		require.NoError(t, waiter.WaitForChildTasks(ctx, "lonely", 0, true))
		assert.Equal(t, 1, source.listCalls["lonely"])
	})

	t.Run("Should discover children by parent query when not embedded", func(t *testing.T) {
		source := newFakeSource().
			states("root", models.StateRunning).
			states("q1", models.StateSucceeded).
			states("q2", models.StateRunning, models.StateSucceeded)
		source.children["root"] = [][]models.Task{{{ID: "q1"}, {ID: "q2"}}}
		waiter := newTestWaiter(source, newFakeClock())

		count, err := waiter.SettleChildTasks(ctx, "root", 0, true)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.Equal(t, 2, source.listCalls["root"])
		assert.Equal(t, 2, source.gets["q2"])
	})

	t.Run("Should pick up children that appear later", func(t *testing.T) {
		source := newFakeSource().
			states("root", models.StateRunning).
			states("a", models.StateSucceeded).
			states("b", models.StateRunning, models.StateSucceeded)
		source.children["root"] = [][]models.Task{
			{{ID: "a"}},
			{{ID: "a"}, {ID: "b"}},
			{{ID: "a"}, {ID: "b"}},
		}
		waiter := newTestWaiter(source, newFakeClock())

		count, err := waiter.SettleChildTasks(ctx, "root", 0, true)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.Equal(t, 3, source.listCalls["root"])
		assert.Equal(t, 2, source.gets["b"])
		assert.Equal(t, 1, source.gets["a"])
	})

	t.Run("Should skip children the cache holds as terminal", func(t *testing.T) {
		source := newFakeSource().
			script("root", rootWithChildren("root", "k1", "k2")).
			states("k2", models.StateRunning, models.StateSucceeded)
		stateCache := cache.NewLRU(8)
		stateCache.Put("k1", "succeeded")
		waiter := newTestWaiter(source, newFakeClock(), WithCache(stateCache))

		var stats Stats
		count, err := waiter.SettleChildTasks(ctx, "root", 0, true, CollectStats(&stats))
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.Equal(t, 0, source.gets["k1"])

		cached, ok := stateCache.Get("k2")
		require.True(t, ok)
		assert.Equal(t, "succeeded", cached)

		// two root GETs plus two for k2
		assert.Equal(t, 4, stats.Polls)
	})

	t.Run("Should give each child the child budget", func(t *testing.T) {
		source := newFakeSource().
			script("root", rootWithChildren("root", "slow")).
			states("slow", models.StateRunning)
		clock := newFakeClock()
		waiter := newTestWaiter(source, clock, WithChildTimeout(30*time.Second))

		err := waiter.WaitForChildTasks(ctx, "root", 0, false)
		require.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, 30*time.Second, clock.slept())
	})

	t.Run("Should use a one hour child budget by default", func(t *testing.T) {
		source := newFakeSource().
			script("root", rootWithChildren("root", "slow")).
			states("slow", models.StateRunning)
		clock := newFakeClock()
		waiter := newTestWaiter(source, clock)

		err := waiter.WaitForChildTasks(ctx, "root", 0, true)
		require.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, time.Hour, clock.slept())
	})

	t.Run("Should propagate discovery errors", func(t *testing.T) {
		source := newFakeSource().states("root", models.StateRunning)
		source.listErr = errors.New("HTTP 500")
		waiter := newTestWaiter(source, newFakeClock())

		err := waiter.WaitForChildTasks(ctx, "root", 0, true)
		assert.Same(t, source.listErr, err)
	})

	t.Run("Should reject embedded references without uri", func(t *testing.T) {
		source := newFakeSource().script("root", models.Task{
			ID:         "root",
			State:      models.StateRunning,
			ChildTasks: []models.ChildTaskRef{{Name: "broken"}},
		})
		waiter := newTestWaiter(source, newFakeClock())

		err := waiter.WaitForChildTasks(ctx, "root", 0, true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken")
	})
}

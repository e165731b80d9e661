package tasks

import (
	"context"
	"fmt"

	"taskwatch/internal/api"
	"taskwatch/internal/models"
)

// WaitForChildTasks waits for every child of rootTaskID to finish. When the
// number of children found equals expectedChildCount it returns at once.
// Children can appear while the parent runs, so discovery repeats until the
// count stops changing; a collaborator that keeps spawning children keeps
// this waiting.
func (w *Waiter) WaitForChildTasks(ctx context.Context, rootTaskID string, expectedChildCount int, raiseOnFailure bool, opts ...WaitOption) error {
	_, err := w.SettleChildTasks(ctx, rootTaskID, expectedChildCount, raiseOnFailure, opts...)
	return err
}

// SettleChildTasks behaves like WaitForChildTasks and also returns the child
// count it settled on, so callers polling at a higher level can pass it back
// as expectedChildCount. CollectStats counts every Task API request made.
func (w *Waiter) SettleChildTasks(ctx context.Context, rootTaskID string, expectedChildCount int, raiseOnFailure bool, opts ...WaitOption) (int, error) {
	settings := w.settings(opts)
	start := w.now()
	requests := 0
	if settings.stats != nil {
		defer func() {
			*settings.stats = Stats{Polls: requests, Elapsed: w.now().Sub(start)}
		}()
	}

	expected := expectedChildCount
	settled := make(map[string]string)

	for {
		childIDs, err := w.discoverChildren(ctx, rootTaskID, &requests)
		if err != nil {
			return expected, err
		}
		if len(childIDs) == expected {
			return expected, nil
		}

		w.log.Infow("waiting for child tasks", "root_task_id", rootTaskID, "children", len(childIDs), "previous", expected)

		for _, childID := range childIDs {
			if _, ok := settled[childID]; ok {
				continue
			}
			state, err := w.childState(ctx, childID, &requests)
			if err != nil {
				return expected, err
			}
			settled[childID] = state
			if models.State(state).IsSuccess() {
				continue
			}

			child, err := w.source.GetTask(ctx, childID)
			requests++
			if err != nil {
				return expected, err
			}
			failure := &ChildTaskFailure{
				RootTaskID: rootTaskID,
				TaskID:     childID,
				State:      state,
				Logs:       child.LogText(),
			}
			if raiseOnFailure {
				return expected, failure
			}
			w.log.Warnw("child task did not succeed", "root_task_id", rootTaskID, "task_id", childID, "state", state)
		}

		expected = len(childIDs)
	}
}

// childState waits for a child unless the cache already holds its terminal state
func (w *Waiter) childState(ctx context.Context, childID string, requests *int) (string, error) {
	if w.cache != nil {
		if state, ok := w.cache.Get(childID); ok {
			w.log.Debugw("child state served from cache", "task_id", childID, "state", state)
			return state, nil
		}
	}
	var stats Stats
	state, err := w.WaitForTerminalState(ctx, childID, w.childTimeout, CollectStats(&stats))
	*requests += stats.Polls
	return state, err
}

// discoverChildren prefers the references embedded in the root task and
// falls back to querying by parent ID.
func (w *Waiter) discoverChildren(ctx context.Context, rootTaskID string, requests *int) ([]string, error) {
	root, err := w.source.GetTask(ctx, rootTaskID)
	*requests++
	if err != nil {
		return nil, err
	}

	if len(root.ChildTasks) > 0 {
		ids := make([]string, 0, len(root.ChildTasks))
		for _, ref := range root.ChildTasks {
			id := api.ResourceID(ref.ResourceURI)
			if id == "" {
				return nil, fmt.Errorf("child task %q of %s has no resource uri", ref.Name, rootTaskID)
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	children, err := w.source.ListChildTasks(ctx, rootTaskID)
	*requests++
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(children))
	for _, child := range children {
		ids = append(ids, child.ID)
	}
	return ids, nil
}

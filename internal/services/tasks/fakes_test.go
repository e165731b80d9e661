package tasks

import (
	"context"
	"fmt"
	"time"

	"taskwatch/internal/models"
)

// fakeSource replays a scripted sequence of snapshots per task; the last
// snapshot repeats once the script is exhausted.
type fakeSource struct {
	scripts   map[string][]models.Task
	gets      map[string]int
	children  map[string][][]models.Task
	listCalls map[string]int
	getErr    map[string]error
	listErr   error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		scripts:   map[string][]models.Task{},
		gets:      map[string]int{},
		children:  map[string][][]models.Task{},
		listCalls: map[string]int{},
		getErr:    map[string]error{},
	}
}

// states scripts a task through the given states
func (f *fakeSource) states(taskID string, states ...models.State) *fakeSource {
	script := make([]models.Task, 0, len(states))
	for _, s := range states {
		script = append(script, models.Task{ID: taskID, State: s})
	}
	f.scripts[taskID] = script
	return f
}

func (f *fakeSource) script(taskID string, snapshots ...models.Task) *fakeSource {
	f.scripts[taskID] = snapshots
	return f
}

func (f *fakeSource) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	if err, ok := f.getErr[taskID]; ok {
		f.gets[taskID]++
		return nil, err
	}
	script, ok := f.scripts[taskID]
	if !ok || len(script) == 0 {
		f.gets[taskID]++
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	idx := f.gets[taskID]
	if idx >= len(script) {
		idx = len(script) - 1
	}
	f.gets[taskID]++
	task := script[idx]
	return &task, nil
}

func (f *fakeSource) ListChildTasks(ctx context.Context, rootTaskID string) ([]models.Task, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	pages := f.children[rootTaskID]
	idx := f.listCalls[rootTaskID]
	f.listCalls[rootTaskID]++
	if len(pages) == 0 {
		return nil, nil
	}
	if idx >= len(pages) {
		idx = len(pages) - 1
	}
	return pages[idx], nil
}

// fakeClock advances virtual time on every sleep
type fakeClock struct {
	current time.Time
	sleeps  []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	return c.current
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.current = c.current.Add(d)
	return nil
}

func (c *fakeClock) slept() time.Duration {
	var total time.Duration
	for _, d := range c.sleeps {
		total += d
	}
	return total
}

func newTestWaiter(source TaskSource, clock *fakeClock, opts ...Option) *Waiter {
	opts = append([]Option{WithClock(clock.now, clock.sleep)}, opts...)
	return NewWaiter(source, opts...)
}

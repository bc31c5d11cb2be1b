package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskManagerRunsAndStopsTask(t *testing.T) {
	tm := NewTaskManager(context.Background())

	started := make(chan struct{})
	err := tm.Start("worker", "test worker", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	require.Error(t, tm.Start("worker", "duplicate", func(context.Context) error { return nil }))

	require.NoError(t, tm.Stop("worker"))
	tm.Wait()

	tasks := tm.ListTasks()
	require.Len(t, tasks, 1)
	require.Equal(t, TaskStatusCanceled, tasks[0].Status)
}

func TestTaskManagerPeriodicRunsImmediatelyThenTicks(t *testing.T) {
	tm := NewTaskManager(context.Background())

	var runs atomic.Int32
	err := tm.StartPeriodic("tick", "counts runs", 20*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)

	tm.StopAll()
	tm.Wait()
}

func TestTaskManagerRecordsFailure(t *testing.T) {
	tm := NewTaskManager(context.Background())

	require.NoError(t, tm.Start("failing", "always fails", func(context.Context) error {
		return context.DeadlineExceeded
	}))
	tm.Wait()

	tasks := tm.ListTasks()
	require.Len(t, tasks, 1)
	require.Equal(t, TaskStatusFailed, tasks[0].Status)
	require.ErrorIs(t, tasks[0].Error, context.DeadlineExceeded)
}

func TestTaskManagerContainsPanics(t *testing.T) {
	tm := NewTaskManager(context.Background())

	require.NoError(t, tm.Start("panicky", "panics immediately", func(context.Context) error {
		panic("oops")
	}))
	tm.Wait()

	tasks := tm.ListTasks()
	require.Len(t, tasks, 1)
	require.Equal(t, TaskStatusFailed, tasks[0].Status)
}

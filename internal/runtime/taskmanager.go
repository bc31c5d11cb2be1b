// Package runtime hosts named background tasks, in particular the scheduled
// revalidation sweep.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// TaskStatus is the lifecycle state of a background task.
type TaskStatus string

const (
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusStopped  TaskStatus = "stopped"
	TaskStatusFailed   TaskStatus = "failed"
	TaskStatusCanceled TaskStatus = "canceled"
)

// Task is a snapshot of one background task.
type Task struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	StartTime   time.Time  `json:"start_time"`
	Status      TaskStatus `json:"status"`
	Error       error      `json:"-"`
	cancel      context.CancelFunc
}

// TaskFunc runs as a background task until its context is canceled.
type TaskFunc func(ctx context.Context) error

// TaskManager tracks background tasks and their lifecycle.
type TaskManager struct {
	tasks  map[string]*Task
	mu     sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewTaskManager(ctx context.Context) *TaskManager {
	ctx, cancel := context.WithCancel(ctx)
	return &TaskManager{
		tasks:  make(map[string]*Task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches a named task. Names are unique for the manager's lifetime.
func (tm *TaskManager) Start(name, description string, fn TaskFunc) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if _, exists := tm.tasks[name]; exists {
		return fmt.Errorf("task %s already exists", name)
	}

	taskCtx, taskCancel := context.WithCancel(tm.ctx)
	task := &Task{
		Name:        name,
		Description: description,
		StartTime:   time.Now(),
		Status:      TaskStatusRunning,
		cancel:      taskCancel,
	}
	tm.tasks[name] = task

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{"task": name, "panic": r}).Error("Task panicked")
				tm.mu.Lock()
				task.Status = TaskStatusFailed
				task.Error = fmt.Errorf("panic: %v", r)
				tm.mu.Unlock()
			}
		}()

		log.WithFields(log.Fields{"task": name, "description": description}).Info("Task started")

		err := fn(taskCtx)

		tm.mu.Lock()
		switch {
		case err != nil && taskCtx.Err() == context.Canceled:
			task.Status = TaskStatusCanceled
		case err != nil:
			task.Status = TaskStatusFailed
			task.Error = err
			log.WithFields(log.Fields{"task": name, "error": err}).Error("Task failed")
		default:
			task.Status = TaskStatusStopped
			log.WithField("task", name).Info("Task stopped")
		}
		tm.mu.Unlock()
	}()

	return nil
}

// StartPeriodic runs fn immediately and then at every interval tick until the
// task is stopped. Individual failures are logged, not fatal.
func (tm *TaskManager) StartPeriodic(name, description string, interval time.Duration, fn TaskFunc) error {
	return tm.Start(name, description, func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if err := fn(ctx); err != nil {
			log.WithFields(log.Fields{"task": name, "error": err}).Warn("Periodic task execution failed")
		}
		for {
			select {
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					log.WithFields(log.Fields{"task": name, "error": err}).Warn("Periodic task execution failed")
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

// Stop cancels one running task.
func (tm *TaskManager) Stop(name string) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, exists := tm.tasks[name]
	if !exists {
		return fmt.Errorf("task %s not found", name)
	}
	if task.Status != TaskStatusRunning {
		return fmt.Errorf("task %s is not running", name)
	}
	task.cancel()
	return nil
}

// StopAll cancels every task.
func (tm *TaskManager) StopAll() {
	tm.cancel()
}

// Wait blocks until all tasks have finished.
func (tm *TaskManager) Wait() {
	tm.wg.Wait()
}

// ListTasks returns snapshots of all known tasks.
func (tm *TaskManager) ListTasks() []*Task {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	tasks := make([]*Task, 0, len(tm.tasks))
	for _, task := range tm.tasks {
		tasks = append(tasks, &Task{
			Name:        task.Name,
			Description: task.Description,
			StartTime:   task.StartTime,
			Status:      task.Status,
			Error:       task.Error,
		})
	}
	return tasks
}

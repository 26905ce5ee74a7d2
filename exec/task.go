// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/pondworks/rivulet"
	"github.com/pondworks/rivulet/ctxsync"
)

// TaskState enumerates the possible states of a task. Tasks move
// monotonically from TaskPending through TaskRunning to one of the
// terminal-ish states; TaskLost and TaskErr tasks may be reset to
// TaskPending for another attempt.
type TaskState int

const (
	// TaskPending indicates the task has not yet been scheduled.
	TaskPending TaskState = iota
	// TaskRunning indicates an attempt of the task is executing.
	TaskRunning
	// TaskOk indicates an attempt of the task completed successfully.
	TaskOk
	// TaskErr indicates the task's last attempt failed.
	TaskErr
	// TaskLost indicates the task's output was invalidated (for
	// example by a shuffle integrity failure) and it must run again.
	TaskLost
)

var taskStateNames = [...]string{
	TaskPending: "PENDING",
	TaskRunning: "RUNNING",
	TaskOk:      "OK",
	TaskErr:     "ERROR",
	TaskLost:    "LOST",
}

func (s TaskState) String() string {
	if s < 0 || int(s) >= len(taskStateNames) {
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
	return taskStateNames[s]
}

// A Task is a schedulable unit of work: computing one output partition
// of a stage, or writing one source partition's worth of shuffle data.
// Tasks are coordinated by their state, guarded by a mutex and
// broadcast over a context-aware condition variable so that waiters
// respect cancellation.
type Task struct {
	// Name identifies the task within a run, e.g.
	// "run-3f2a/stage-1/part-4". Accumulator updates are committed at
	// most once per name, regardless of retries.
	Name string
	// Do executes one attempt of the task on the given worker.
	Do func(ctx context.Context, w *Worker) error
	// Prefer lists workers holding the task's inputs; the scheduler
	// favors them for up to the session's locality wait.
	Prefer []string

	// out and partition identify the output partition the task
	// materializes. They contextualize failures: a TaskError reports
	// the partition and its lineage.
	out       rivulet.Dataset
	partition int

	mu       sync.Mutex
	cond     *ctxsync.Cond
	state    TaskState
	err      error
	attempts int
	// lastWorker is the worker of the most recent attempt; retries
	// steer away from it.
	lastWorker string
}

func newTask(name string, do func(ctx context.Context, w *Worker) error) *Task {
	t := &Task{Name: name, Do: do}
	t.cond = ctxsync.NewCond(&t.mu)
	return t
}

func (t *Task) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("%s [%s]", t.Name, t.state)
}

// State returns the task's current state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the error of the task's last failed attempt, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Attempts returns the number of attempts started so far.
func (t *Task) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// set transitions the task to state, recording err for TaskErr, and
// wakes all waiters.
func (t *Task) set(state TaskState, err error) {
	t.mu.Lock()
	t.state = state
	t.err = err
	if state == TaskRunning {
		t.attempts++
	}
	t.cond.Broadcast()
	t.mu.Unlock()
}

// WaitState returns when the task's state is at least state, or when
// the context is done, in which case the context's error is returned.
func (t *Task) WaitState(ctx context.Context, state TaskState) (TaskState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	for t.state < state && err == nil {
		err = t.cond.Wait(ctx)
	}
	return t.state, err
}

// A TaskError is returned by an action when a task has exhausted its
// retry budget. It wraps the final attempt's error together with the
// output partition the task was computing and that partition's
// lineage.
type TaskError struct {
	// Task is the name of the failed task.
	Task string
	// Attempts is the number of attempts made.
	Attempts int
	// Node and Partition identify the output partition whose
	// computation failed. Node is empty when the task has no single
	// output partition.
	Node      rivulet.NodeID
	Partition int
	// Lineage lists the parent partitions feeding the failed
	// partition, the inputs a recomputation would consume.
	Lineage []rivulet.ParentPartitions
	// Err is the error of the final attempt.
	Err error
}

func newTaskError(task *Task, err error) *TaskError {
	e := &TaskError{Task: task.Name, Attempts: task.Attempts(), Err: err}
	if task.out.ID() != "" {
		e.Node = task.out.ID()
		e.Partition = task.partition
		e.Lineage = task.out.Lineage(task.partition)
	}
	return e
}

func (e *TaskError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("task %s failed after %d attempts: %v", e.Task, e.Attempts, e.Err)
	}
	return fmt.Sprintf("task %s (%s[%d]) failed after %d attempts: %v", e.Task, e.Node, e.Partition, e.Attempts, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

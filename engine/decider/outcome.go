package decider

import (
	"fmt"

	"github.com/ropereraLK/conductor-community/engine/task"
	"github.com/ropereraLK/conductor-community/engine/workflow"
)

// Outcome is the decision for one workflow evaluation: tasks to persist and
// enqueue, tasks whose mutations must be persisted, and the completion flag.
// The emission order of TasksToBeScheduled is the insertion order of the
// evaluation; on a reference-name collision the first insert wins.
type Outcome struct {
	TasksToBeScheduled []*task.Task
	TasksToBeUpdated   []*task.Task
	TasksToBeRequeued  []*task.Task
	IsComplete         bool
}

// TerminateError aborts the evaluation and instructs the executor to drive
// the workflow to Status with Reason. Task, when set, is the offending task.
type TerminateError struct {
	Reason string
	Status workflow.Status
	Task   *task.Task
}

func (e *TerminateError) Error() string {
	return fmt.Sprintf("workflow terminated as %s: %s", e.Status, e.Reason)
}

// NewTerminate builds a TerminateError; an empty status defaults to FAILED.
func NewTerminate(reason string, status workflow.Status, t *task.Task) *TerminateError {
	if status == "" {
		status = workflow.StatusFailed
	}
	return &TerminateError{Reason: reason, Status: status, Task: t}
}

// scheduleSet is an insertion-ordered map of tasks keyed by reference name.
type scheduleSet struct {
	order []string
	tasks map[string]*task.Task
}

func newScheduleSet() *scheduleSet {
	return &scheduleSet{tasks: make(map[string]*task.Task)}
}

// put inserts or replaces; a replace keeps the original position.
func (s *scheduleSet) put(t *task.Task) {
	if _, ok := s.tasks[t.ReferenceName]; !ok {
		s.order = append(s.order, t.ReferenceName)
	}
	s.tasks[t.ReferenceName] = t
}

// putIfAbsent inserts only when the reference name is unclaimed.
func (s *scheduleSet) putIfAbsent(t *task.Task) {
	if _, ok := s.tasks[t.ReferenceName]; ok {
		return
	}
	s.order = append(s.order, t.ReferenceName)
	s.tasks[t.ReferenceName] = t
}

// values returns the tasks in insertion order, skipping excluded refnames.
func (s *scheduleSet) values(excluded map[string]bool) []*task.Task {
	var out []*task.Task
	for _, refName := range s.order {
		if excluded[refName] {
			continue
		}
		out = append(out, s.tasks[refName])
	}
	return out
}

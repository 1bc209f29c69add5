// Package store declares the persistence boundaries of the engine. The
// engine core never talks to a database directly; it reads and writes through
// these interfaces. The execution store must provide read-your-writes per
// workflow id; the metadata store is read-mostly and may be cached by its
// implementation.
package store

import (
	"context"

	"github.com/ropereraLK/conductor-community/engine/core"
	"github.com/ropereraLK/conductor-community/engine/task"
	"github.com/ropereraLK/conductor-community/engine/workflow"
)

// Metadata serves workflow and task definitions. Lookups of unknown names
// return a NOT_FOUND core error.
type Metadata interface {
	GetWorkflowDef(ctx context.Context, name string, version int) (*workflow.Def, error)
	GetAllWorkflowDefs(ctx context.Context) ([]*workflow.Def, error)
	GetTaskDef(ctx context.Context, name string) (*task.Def, error)
}

// Execution persists workflow and task runtime records.
type Execution interface {
	GetTask(ctx context.Context, taskID core.ID) (*task.Task, error)
	UpdateTask(ctx context.Context, t *task.Task) error
	GetPendingTasksForType(ctx context.Context, taskType string) ([]*task.Task, error)
	// InProgressCount returns how many tasks of the given task-def name are
	// currently IN_PROGRESS, for poll back-pressure.
	InProgressCount(ctx context.Context, taskDefName string) (int, error)

	GetWorkflow(ctx context.Context, workflowID core.ID, includeTasks bool) (*workflow.Workflow, error)
	GetWorkflowsByCorrelationID(ctx context.Context, correlationID string, includeTasks bool) ([]*workflow.Workflow, error)
	GetRunningWorkflows(ctx context.Context, workflowName string) ([]*workflow.Workflow, error)
	GetRunningWorkflowIDs(ctx context.Context, workflowName string) ([]core.ID, error)
	RemoveWorkflow(ctx context.Context, workflowID core.ID) error

	UpdateLastPoll(ctx context.Context, taskType, domain, workerID string) error
	GetPollData(ctx context.Context, taskType string) ([]*task.PollData, error)

	AddTaskExecLogs(ctx context.Context, logs []task.ExecLog) error
}

// SearchResult pages hits with the index-reported total.
type SearchResult[T any] struct {
	TotalHits int64 `json:"totalHits"`
	Results   []T   `json:"results"`
}

// Index serves search over workflows and tasks, and worker-emitted task logs.
type Index interface {
	SearchWorkflows(ctx context.Context, query, freeText string, start, size int, sort []string) (*SearchResult[core.ID], error)
	SearchTasks(ctx context.Context, query, freeText string, start, size int, sort []string) (*SearchResult[core.ID], error)
	GetTaskExecLogs(ctx context.Context, taskID core.ID) ([]task.ExecLog, error)
}

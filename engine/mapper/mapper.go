// Package mapper materializes concrete task instances from workflow-task
// templates. Mappers are looked up by task-type tag; each one must be
// deterministic for a given context and must not mutate the workflow.
package mapper

import (
	"context"

	"github.com/ropereraLK/conductor-community/engine/core"
	"github.com/ropereraLK/conductor-community/engine/task"
	"github.com/ropereraLK/conductor-community/engine/workflow"
)

// Scheduler is the decider-side callback used by branching mappers to map
// the first task of a selected branch recursively.
type Scheduler interface {
	TasksToBeScheduled(ctx context.Context, def *workflow.Def, w *workflow.Workflow, wt *workflow.TaskTemplate, retryCount int) ([]*task.Task, error)
}

// Context carries everything a mapper may consult to produce its tasks.
type Context struct {
	WorkflowDef    *workflow.Def
	Workflow       *workflow.Workflow
	TaskDef        *task.Def
	TaskToSchedule *workflow.TaskTemplate
	Input          core.Payload
	RetryCount     int
	TaskID         core.ID
	Scheduler      Scheduler
}

// NewTask returns the base task instance for the template being mapped, in
// SCHEDULED state with the resolved input attached.
func (mc *Context) NewTask() *task.Task {
	wt := mc.TaskToSchedule
	return &task.Task{
		TaskID:               mc.TaskID,
		ReferenceName:        wt.TaskReferenceName,
		TaskDefName:          wt.Name,
		TaskType:             wt.TaskType(),
		Status:               task.StatusScheduled,
		WorkflowInstanceID:   mc.Workflow.WorkflowID,
		WorkflowType:         mc.Workflow.WorkflowType,
		Input:                mc.Input,
		ScheduledTime:        task.NowMillis(),
		RetryCount:           mc.RetryCount,
		StartDelaySeconds:    wt.StartDelaySeconds,
		CallbackAfterSeconds: wt.StartDelaySeconds,
	}
}

// Mapper turns one template into the task instances it schedules.
type Mapper interface {
	MapTasks(ctx context.Context, mc *Context) ([]*task.Task, error)
}

// Registry dispatches templates to mappers by type tag. Unregistered
// non-system types fall back to the simple mapper.
type Registry struct {
	mappers map[task.Type]Mapper
}

// NewRegistry returns a registry with every built-in mapper installed.
func NewRegistry() *Registry {
	r := &Registry{mappers: make(map[task.Type]Mapper)}
	r.Register(task.TypeSimple, &Simple{})
	r.Register(task.TypeUserDefined, &Simple{})
	r.Register(task.TypeDecision, &Decision{})
	r.Register(task.TypeFork, &Fork{})
	r.Register(task.TypeForkJoinDynamic, &ForkJoinDynamic{})
	r.Register(task.TypeJoin, &Join{})
	r.Register(task.TypeSubWorkflow, &SubWorkflow{})
	r.Register(task.TypeWait, &Wait{})
	r.Register(task.TypeEvent, &Event{})
	return r
}

// Register installs (or replaces) the mapper for a type tag.
func (r *Registry) Register(taskType task.Type, m Mapper) {
	r.mappers[taskType] = m
}

// Get resolves the mapper for a type tag. Unknown user-defined tags map
// through the simple mapper; unknown system tags are an error.
func (r *Registry) Get(taskType task.Type) (Mapper, error) {
	if m, ok := r.mappers[taskType]; ok {
		return m, nil
	}
	if !taskType.IsSystem() {
		return r.mappers[task.TypeSimple], nil
	}
	return nil, core.NewError(core.CodeInternal, "no task mapper registered for type %q", taskType)
}

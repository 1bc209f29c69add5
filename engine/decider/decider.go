// Package decider evaluates the state of a workflow against its definition.
// The result of an evaluation is either to schedule further tasks, complete
// or terminate the workflow, or do nothing. Decide performs no writes; the
// caller persists the outcome and must serialize evaluations per workflow id.
package decider

import (
	"context"
	"errors"
	"fmt"

	"github.com/ropereraLK/conductor-community/engine/core"
	"github.com/ropereraLK/conductor-community/engine/mapper"
	"github.com/ropereraLK/conductor-community/engine/metrics"
	"github.com/ropereraLK/conductor-community/engine/params"
	"github.com/ropereraLK/conductor-community/engine/payload"
	"github.com/ropereraLK/conductor-community/engine/queue"
	"github.com/ropereraLK/conductor-community/engine/store"
	"github.com/ropereraLK/conductor-community/engine/task"
	"github.com/ropereraLK/conductor-community/engine/workflow"
	"github.com/ropereraLK/conductor-community/pkg/logger"
)

type Decider struct {
	metadata store.Metadata
	queue    queue.Queue
	resolver *params.Resolver
	mappers  *mapper.Registry
	gateway  *payload.Gateway
	monitor  *metrics.Monitor
}

func New(metadata store.Metadata, q queue.Queue, resolver *params.Resolver, mappers *mapper.Registry, gateway *payload.Gateway, monitor *metrics.Monitor) *Decider {
	return &Decider{
		metadata: metadata,
		queue:    q,
		resolver: resolver,
		mappers:  mappers,
		gateway:  gateway,
		monitor:  monitor,
	}
}

// Decide evaluates the workflow snapshot against its definition. A returned
// *TerminateError means the workflow must be finalized with the status it
// carries; any other error is a collaborator failure.
func (d *Decider) Decide(ctx context.Context, w *workflow.Workflow, def *workflow.Def) (*Outcome, error) {
	w.SchemaVersion = def.SchemaVersion

	evaluable := 0
	for _, t := range w.Tasks {
		if t.Status != task.StatusSkipped && t.Status != task.StatusReadyForRerun && !t.Executed {
			evaluable++
		}
	}

	// a fresh workflow has nothing evaluated yet and gets its seed tasks
	var preScheduled []*task.Task
	if evaluable == 0 {
		seeded, err := d.startWorkflow(ctx, w, def)
		if err != nil {
			return nil, d.recordTermination(err)
		}
		preScheduled = seeded
	}
	outcome, err := d.decide(ctx, def, w, preScheduled)
	if err != nil {
		return nil, d.recordTermination(err)
	}
	return outcome, nil
}

// recordTermination counts the terminal status when err carries one.
func (d *Decider) recordTermination(err error) error {
	var terminate *TerminateError
	if errors.As(err, &terminate) {
		d.monitor.RecordWorkflowTermination(terminate.Status.String())
	}
	return err
}

func (d *Decider) decide(ctx context.Context, def *workflow.Def, w *workflow.Workflow, preScheduled []*task.Task) (*Outcome, error) {
	log := logger.FromContext(ctx)
	outcome := &Outcome{}

	if w.Status == workflow.StatusPaused {
		log.Debug("workflow is paused", "workflow_id", w.WorkflowID)
		return outcome, nil
	}
	if w.Status.IsTerminal() {
		log.Warn("workflow is already finished",
			"workflow_id", w.WorkflowID, "status", w.Status, "reason", w.ReasonForIncompletion)
		return outcome, nil
	}

	var pendingTasks []*task.Task
	for _, t := range w.Tasks {
		if (!t.Retried && t.Status != task.StatusSkipped && !t.Executed) || t.TaskType.IsBuiltIn() {
			pendingTasks = append(pendingTasks, t)
		}
	}

	executedRefNames := make(map[string]bool)
	for _, t := range w.Tasks {
		if t.Executed {
			executedRefNames[t.ReferenceName] = true
		}
	}

	toSchedule := newScheduleSet()
	for _, t := range preScheduled {
		toSchedule.put(t)
	}

	for _, pendingTask := range pendingTasks {
		if pendingTask.TaskType.IsBuiltIn() && !pendingTask.Status.IsTerminal() {
			toSchedule.putIfAbsent(pendingTask)
			delete(executedRefNames, pendingTask.ReferenceName)
		}

		taskDef, err := d.taskDef(ctx, pendingTask.TaskDefName)
		if err != nil {
			return nil, err
		}
		if err := d.checkForTimeout(ctx, taskDef, pendingTask); err != nil {
			return nil, err
		}
		if timedOut, err := d.isResponseTimedOut(ctx, taskDef, pendingTask); err != nil {
			return nil, err
		} else if timedOut {
			timeoutTask(taskDef, pendingTask)
		}

		if !pendingTask.Status.IsSuccessful() {
			workflowTask := def.TaskByRefName(pendingTask.ReferenceName)
			if workflowTask != nil && workflowTask.Optional {
				pendingTask.Status = task.StatusCompletedWithErrors
			} else {
				retryTask, err := d.retry(ctx, taskDef, workflowTask, pendingTask, w)
				if err != nil {
					return nil, err
				}
				toSchedule.put(retryTask)
				delete(executedRefNames, retryTask.ReferenceName)
				outcome.TasksToBeUpdated = append(outcome.TasksToBeUpdated, pendingTask)
			}
		}

		if !pendingTask.Executed && !pendingTask.Retried && pendingTask.Status.IsTerminal() {
			pendingTask.Executed = true
			nextTasks, err := d.getNextTask(ctx, def, w, pendingTask)
			if err != nil {
				return nil, err
			}
			for _, nextTask := range nextTasks {
				toSchedule.putIfAbsent(nextTask)
			}
			outcome.TasksToBeUpdated = append(outcome.TasksToBeUpdated, pendingTask)
			log.Debug("scheduling next tasks",
				"workflow_id", w.WorkflowID, "after", pendingTask.TaskDefName, "count", len(nextTasks))
		}
	}

	outcome.TasksToBeScheduled = toSchedule.values(executedRefNames)
	if len(outcome.TasksToBeScheduled) == 0 {
		complete, err := d.checkForCompletion(ctx, def, w)
		if err != nil {
			return nil, err
		}
		if complete {
			log.Debug("marking workflow as complete", "workflow_id", w.WorkflowID)
			outcome.IsComplete = true
		}
	}
	return outcome, nil
}

// taskDef loads a task definition, mapping NOT_FOUND to nil.
func (d *Decider) taskDef(ctx context.Context, name string) (*task.Def, error) {
	def, err := d.metadata.GetTaskDef(ctx, name)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return def, nil
}

func (d *Decider) startWorkflow(ctx context.Context, w *workflow.Workflow, def *workflow.Def) ([]*task.Task, error) {
	logger.FromContext(ctx).Debug("starting workflow", "workflow", def.Name, "workflow_id", w.WorkflowID)

	if w.ReRunFromWorkflowID == "" || len(w.Tasks) == 0 {
		if len(def.Tasks) == 0 {
			return nil, NewTerminate("No tasks found to be executed", workflow.StatusCompleted, nil)
		}
		taskToSchedule := def.Tasks[0]
		for isTaskSkipped(taskToSchedule, w) {
			taskToSchedule = def.NextTask(taskToSchedule.TaskReferenceName)
		}
		if taskToSchedule == nil {
			return nil, nil
		}
		return d.TasksToBeScheduled(ctx, def, w, taskToSchedule, 0)
	}

	// rerun case: resume from the task marked READY_FOR_RERUN
	for _, t := range w.Tasks {
		if t.Status == task.StatusReadyForRerun {
			t.Status = task.StatusScheduled
			t.Retried = true
			t.RetryCount = 0
			return []*task.Task{t}, nil
		}
	}
	reason := fmt.Sprintf("workflow %s is marked for re-run from %s but has no task to start from",
		w.WorkflowID, w.ReRunFromWorkflowID)
	return nil, NewTerminate(reason, workflow.StatusFailed, nil)
}

func (d *Decider) getNextTask(ctx context.Context, def *workflow.Def, w *workflow.Workflow, t *task.Task) ([]*task.Task, error) {
	// a decision that already produced its branch drives control flow itself
	if t.TaskType == task.TypeDecision && t.Input["hasChildren"] != nil {
		return nil, nil
	}

	taskToSchedule := def.NextTask(t.ReferenceName)
	for isTaskSkipped(taskToSchedule, w) {
		taskToSchedule = def.NextTask(taskToSchedule.TaskReferenceName)
	}
	if taskToSchedule == nil {
		return nil, nil
	}
	return d.TasksToBeScheduled(ctx, def, w, taskToSchedule, 0)
}

// nextTaskRefName returns the reference name that should follow t, skipping
// skipped templates, or "" at the end of the flow.
func nextTaskRefName(def *workflow.Def, w *workflow.Workflow, t *task.Task) string {
	taskToSchedule := def.NextTask(t.ReferenceName)
	for isTaskSkipped(taskToSchedule, w) {
		taskToSchedule = def.NextTask(taskToSchedule.TaskReferenceName)
	}
	if taskToSchedule == nil {
		return ""
	}
	return taskToSchedule.TaskReferenceName
}

func (d *Decider) checkForCompletion(ctx context.Context, def *workflow.Def, w *workflow.Workflow) (bool, error) {
	if len(w.Tasks) == 0 {
		return false, nil
	}

	statusByRef := make(map[string]task.Status)
	for _, t := range w.Tasks {
		statusByRef[t.ReferenceName] = t.Status
	}

	for _, wt := range def.Tasks {
		status, ok := statusByRef[wt.TaskReferenceName]
		if !ok || !status.IsTerminal() || !status.IsSuccessful() {
			return false, nil
		}
	}
	for _, status := range statusByRef {
		if !status.IsTerminal() {
			return false, nil
		}
	}
	for _, t := range w.Tasks {
		next := nextTaskRefName(def, w, t)
		if next != "" {
			if _, scheduled := statusByRef[next]; !scheduled {
				return false, nil
			}
		}
	}
	return true, nil
}

func (d *Decider) retry(ctx context.Context, taskDef *task.Def, workflowTask *workflow.TaskTemplate, t *task.Task, w *workflow.Workflow) (*task.Task, error) {
	retryCount := t.RetryCount
	if !t.Status.IsRetriable() || t.TaskType.IsBuiltIn() || taskDef == nil || taskDef.RetryCount <= retryCount {
		status := workflow.StatusFailed
		if t.Status == task.StatusTimedOut {
			status = workflow.StatusTimedOut
		}
		if err := d.UpdateWorkflowOutput(ctx, w, t); err != nil {
			return nil, err
		}
		return nil, NewTerminate(t.ReasonForIncompletion, status, t)
	}

	startDelay := taskDef.RetryDelaySeconds
	if taskDef.RetryLogic == task.RetryExponentialBackoff {
		startDelay = taskDef.RetryDelaySeconds * int64(1+t.RetryCount)
	}

	t.Retried = true

	rescheduled, err := t.Copy()
	if err != nil {
		return nil, err
	}
	rescheduled.TaskID = core.NewID()
	rescheduled.RetriedTaskID = t.TaskID
	rescheduled.Status = task.StatusScheduled
	rescheduled.PollCount = 0
	rescheduled.RetryCount = t.RetryCount + 1
	rescheduled.Retried = false
	rescheduled.Executed = false
	rescheduled.StartDelaySeconds = startDelay
	rescheduled.CallbackAfterSeconds = startDelay
	rescheduled.ScheduledTime = task.NowMillis()
	rescheduled.StartTime = 0
	rescheduled.UpdateTime = 0
	rescheduled.EndTime = 0
	rescheduled.WorkerID = ""
	rescheduled.ReasonForIncompletion = ""
	rescheduled.Input = core.Payload{}
	if t.ExternalInputPath != "" {
		rescheduled.ExternalInputPath = t.ExternalInputPath
	} else {
		input, err := core.DeepCopyPayload(t.Input)
		if err != nil {
			return nil, err
		}
		if input != nil {
			rescheduled.Input = input
		}
	}
	if workflowTask != nil && w.SchemaVersion > 1 {
		instance, err := d.populateWorkflowAndTaskData(ctx, w)
		if err != nil {
			return nil, err
		}
		taskInput := d.resolver.TaskInputV2(workflowTask.InputParameters, instance, taskDef, rescheduled.TaskID)
		if err := core.MergePayload(rescheduled.Input, taskInput); err != nil {
			return nil, err
		}
	}
	if err := d.gateway.VerifyAndUploadTask(ctx, rescheduled, payload.KindTaskInput); err != nil {
		return nil, err
	}
	return rescheduled, nil
}

// populateWorkflowAndTaskData returns a deep copy of the workflow with every
// externalized payload downloaded back into memory.
func (d *Decider) populateWorkflowAndTaskData(ctx context.Context, w *workflow.Workflow) (*workflow.Workflow, error) {
	instance, err := w.Copy()
	if err != nil {
		return nil, err
	}
	if w.ExternalInputPath != "" {
		input, err := d.gateway.Download(ctx, w.ExternalInputPath)
		if err != nil {
			return nil, err
		}
		d.gateway.RecordUsage(w.WorkflowType, true, payload.KindWorkflowInput)
		instance.Input = input
		instance.ExternalInputPath = ""
	}
	for _, t := range instance.Tasks {
		if t.ExternalOutputPath != "" {
			output, err := d.gateway.Download(ctx, t.ExternalOutputPath)
			if err != nil {
				return nil, err
			}
			d.gateway.RecordUsage(t.TaskDefName, true, payload.KindTaskOutput)
			t.Output = output
			t.ExternalOutputPath = ""
		}
		if t.ExternalInputPath != "" {
			input, err := d.gateway.Download(ctx, t.ExternalInputPath)
			if err != nil {
				return nil, err
			}
			d.gateway.RecordUsage(t.TaskDefName, true, payload.KindTaskInput)
			t.Input = input
			t.ExternalInputPath = ""
		}
	}
	return instance, nil
}

// UpdateWorkflowOutput recomputes the workflow output: from the definition's
// output parameters when present, else from the last task's output (external
// or inline). The result is uploaded when oversized.
func (d *Decider) UpdateWorkflowOutput(ctx context.Context, w *workflow.Workflow, t *task.Task) error {
	if len(w.Tasks) == 0 {
		return nil
	}
	last := t
	if last == nil {
		last = w.Tasks[len(w.Tasks)-1]
	}
	def, err := d.metadata.GetWorkflowDef(ctx, w.WorkflowType, w.Version)
	if err != nil {
		return err
	}

	var output core.Payload
	switch {
	case len(def.OutputParameters) > 0:
		instance, err := d.populateWorkflowAndTaskData(ctx, w)
		if err != nil {
			return err
		}
		output = d.resolver.TaskInputV2(def.OutputParameters, instance, nil, "")
	case last.ExternalOutputPath != "":
		output, err = d.gateway.Download(ctx, last.ExternalOutputPath)
		if err != nil {
			return err
		}
		d.gateway.RecordUsage(last.TaskDefName, true, payload.KindTaskOutput)
	default:
		output = last.Output
	}

	w.Output = output
	return d.gateway.VerifyAndUploadWorkflow(ctx, w, payload.KindWorkflowOutput)
}

func (d *Decider) checkForTimeout(ctx context.Context, taskDef *task.Def, t *task.Task) error {
	log := logger.FromContext(ctx)
	if taskDef == nil {
		log.Warn("missing task definition", "task_def", t.TaskDefName, "workflow_id", t.WorkflowInstanceID)
		return nil
	}
	if t.Status.IsTerminal() || taskDef.TimeoutSeconds <= 0 || t.Status != task.StatusInProgress {
		return nil
	}

	timeout := taskDef.TimeoutSeconds * 1000
	elapsed := task.NowMillis() - (t.StartTime + t.StartDelaySeconds*1000)
	if elapsed < timeout {
		return nil
	}

	reason := fmt.Sprintf("task timed out after %d ms, timeout configured as %d ms", elapsed, timeout)
	d.monitor.RecordTaskTimeout(t.TaskDefName)

	switch taskDef.TimeoutPolicy {
	case task.TimeoutAlertOnly:
		return nil
	case task.TimeoutRetry:
		t.Status = task.StatusTimedOut
		t.ReasonForIncompletion = reason
		return nil
	case task.TimeoutWorkflow:
		t.Status = task.StatusTimedOut
		t.ReasonForIncompletion = reason
		return NewTerminate(reason, workflow.StatusTimedOut, t)
	}
	return nil
}

// isResponseTimedOut reports whether an in-progress task stopped responding.
// A task present in its queue has a registered callback and is not held by a
// worker, so it never response-times-out.
func (d *Decider) isResponseTimedOut(ctx context.Context, taskDef *task.Def, t *task.Task) (bool, error) {
	log := logger.FromContext(ctx)
	if taskDef == nil {
		return false, nil
	}
	if t.Status != task.StatusInProgress || taskDef.ResponseTimeoutSeconds <= 0 {
		return false, nil
	}
	queued, err := d.queue.Exists(ctx, queue.NameOf(t), t.TaskID)
	if err != nil {
		return false, err
	}
	if queued {
		return false, nil
	}

	responseTimeout := taskDef.ResponseTimeoutSeconds * 1000
	noResponseTime := task.NowMillis() - t.UpdateTime
	if noResponseTime < responseTimeout {
		log.Debug("response time within configured timeout",
			"task_id", t.TaskID, "no_response_ms", noResponseTime, "response_timeout_ms", responseTimeout)
		return false, nil
	}
	d.monitor.RecordTaskResponseTimeout(t.TaskDefName)
	return true, nil
}

func timeoutTask(taskDef *task.Def, t *task.Task) {
	t.Status = task.StatusTimedOut
	t.ReasonForIncompletion = fmt.Sprintf("response timeout of %d seconds exceeded for task %s of definition %s",
		taskDef.ResponseTimeoutSeconds, t.TaskID, t.TaskDefName)
}

// TasksToBeScheduled maps a template into its task instances, resolving the
// input against the payload-populated workflow. It implements
// mapper.Scheduler for recursive branch mapping.
func (d *Decider) TasksToBeScheduled(ctx context.Context, def *workflow.Def, w *workflow.Workflow, taskToSchedule *workflow.TaskTemplate, retryCount int) ([]*task.Task, error) {
	instance, err := d.populateWorkflowAndTaskData(ctx, w)
	if err != nil {
		return nil, err
	}
	input := d.resolver.TaskInput(taskToSchedule.InputParameters, instance, nil, "")

	inProgress := make(map[string]bool)
	for _, t := range instance.Tasks {
		if t.Status == task.StatusInProgress {
			inProgress[t.ReferenceName] = true
		}
	}

	taskDef, err := d.taskDef(ctx, taskToSchedule.Name)
	if err != nil {
		return nil, err
	}

	m, err := d.mappers.Get(taskToSchedule.TaskType())
	if err != nil {
		return nil, NewTerminate(err.Error(), workflow.StatusFailed, nil)
	}
	mapped, err := m.MapTasks(ctx, &mapper.Context{
		WorkflowDef:    def,
		Workflow:       instance,
		TaskDef:        taskDef,
		TaskToSchedule: taskToSchedule,
		Input:          input,
		RetryCount:     retryCount,
		TaskID:         core.NewID(),
		Scheduler:      d,
	})
	if err != nil {
		var terminate *TerminateError
		if errors.As(err, &terminate) {
			return nil, err
		}
		return nil, NewTerminate(err.Error(), workflow.StatusFailed, nil)
	}

	// a task already in progress under the same reference name must not be
	// scheduled twice
	tasks := make([]*task.Task, 0, len(mapped))
	for _, mappedTask := range mapped {
		if inProgress[mappedTask.ReferenceName] {
			continue
		}
		if err := d.gateway.VerifyAndUploadTask(ctx, mappedTask, payload.KindTaskInput); err != nil {
			return nil, err
		}
		tasks = append(tasks, mappedTask)
	}
	return tasks, nil
}

func isTaskSkipped(taskToSchedule *workflow.TaskTemplate, w *workflow.Workflow) bool {
	if taskToSchedule == nil {
		return false
	}
	t := w.TaskByRefName(taskToSchedule.TaskReferenceName)
	return t != nil && t.Status == task.StatusSkipped
}

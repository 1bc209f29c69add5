package mapper

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ropereraLK/conductor-community/engine/core"
	"github.com/ropereraLK/conductor-community/engine/task"
	"github.com/ropereraLK/conductor-community/engine/workflow"
)

// Simple maps a user-defined template one-to-one into a SCHEDULED task.
type Simple struct{}

func (m *Simple) MapTasks(_ context.Context, mc *Context) ([]*task.Task, error) {
	return []*task.Task{mc.NewTask()}, nil
}

// Decision picks the branch whose case value matches the resolved case
// parameter and emits the decision marker ahead of the branch's first task.
// The marker carries hasChildren so the decider does not walk past it while
// the branch drives control flow.
type Decision struct{}

func (m *Decision) MapTasks(ctx context.Context, mc *Context) ([]*task.Task, error) {
	wt := mc.TaskToSchedule
	caseValue := fmt.Sprintf("%v", mc.Input[wt.CaseValueParam])

	decisionTask := mc.NewTask()
	decisionTask.TaskType = task.TypeDecision
	decisionTask.Status = task.StatusInProgress
	decisionTask.StartTime = task.NowMillis()
	decisionTask.Input = core.Payload{
		"case":        caseValue,
		"hasChildren": "true",
	}
	tasks := []*task.Task{decisionTask}

	branch := wt.DecisionCases[caseValue]
	if len(branch) == 0 {
		branch = wt.DefaultCase
	}
	if len(branch) == 0 {
		return tasks, nil
	}
	branchTasks, err := mc.Scheduler.TasksToBeScheduled(ctx, mc.WorkflowDef, mc.Workflow, branch[0], mc.RetryCount)
	if err != nil {
		return nil, err
	}
	return append(tasks, branchTasks...), nil
}

// Fork emits the completed fork marker plus the first task of every branch.
// The definition must pair the fork with a join.
type Fork struct{}

func (m *Fork) MapTasks(ctx context.Context, mc *Context) ([]*task.Task, error) {
	wt := mc.TaskToSchedule
	if len(wt.ForkTasks) == 0 {
		return nil, core.ErrInvalidInput("fork template %q has no branches", wt.TaskReferenceName)
	}

	forkTask := mc.NewTask()
	forkTask.TaskType = task.TypeFork
	forkTask.Status = task.StatusCompleted
	forkTask.StartTime = task.NowMillis()
	forkTask.EndTime = forkTask.StartTime
	tasks := []*task.Task{forkTask}

	for _, branch := range wt.ForkTasks {
		if len(branch) == 0 {
			continue
		}
		branchTasks, err := mc.Scheduler.TasksToBeScheduled(ctx, mc.WorkflowDef, mc.Workflow, branch[0], mc.RetryCount)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, branchTasks...)
	}

	joinTemplate := mc.WorkflowDef.NextTask(wt.TaskReferenceName)
	if joinTemplate == nil || joinTemplate.TaskType() != task.TypeJoin {
		return nil, core.ErrInvalidInput("fork template %q is not followed by a join", wt.TaskReferenceName)
	}
	joinTasks, err := mc.Scheduler.TasksToBeScheduled(ctx, mc.WorkflowDef, mc.Workflow, joinTemplate, mc.RetryCount)
	if err != nil {
		return nil, err
	}
	return append(tasks, joinTasks...), nil
}

// ForkJoinDynamic resolves its fan-out from input data: the dynamic-tasks
// parameter holds the templates to spawn, the input parameter holds their
// per-reference inputs. A join over the dynamic reference names is emitted
// with the fork.
type ForkJoinDynamic struct{}

func (m *ForkJoinDynamic) MapTasks(ctx context.Context, mc *Context) ([]*task.Task, error) {
	wt := mc.TaskToSchedule
	templates, err := dynamicTemplates(mc.Input[wt.DynamicForkTasksParam])
	if err != nil {
		return nil, core.WrapError(core.CodeInvalidInput, err, "bad dynamic fork input on %q", wt.TaskReferenceName)
	}
	if len(templates) == 0 {
		return nil, core.ErrInvalidInput("dynamic fork %q resolved to no tasks", wt.TaskReferenceName)
	}
	inputs, _ := mc.Input[wt.DynamicForkTasksInputParam].(map[string]any)

	forkTask := mc.NewTask()
	forkTask.TaskType = task.TypeFork
	forkTask.Status = task.StatusCompleted
	forkTask.StartTime = task.NowMillis()
	forkTask.EndTime = forkTask.StartTime
	joinOn := make([]string, 0, len(templates))
	tasks := []*task.Task{forkTask}

	for _, dynamic := range templates {
		if inputs != nil {
			if dynamicInput, ok := inputs[dynamic.TaskReferenceName].(map[string]any); ok {
				dynamic.InputParameters = dynamicInput
			}
		}
		mapped, err := mc.Scheduler.TasksToBeScheduled(ctx, mc.WorkflowDef, mc.Workflow, dynamic, mc.RetryCount)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, mapped...)
		joinOn = append(joinOn, dynamic.TaskReferenceName)
	}
	forkTask.Input = core.Payload{"forkedTasks": joinOn}

	joinTask := mc.NewTask()
	joinTask.TaskID = core.NewID()
	joinTask.ReferenceName = wt.TaskReferenceName + "_join"
	joinTask.TaskDefName = task.TypeJoin.String()
	joinTask.TaskType = task.TypeJoin
	joinTask.Status = task.StatusInProgress
	joinTask.StartTime = task.NowMillis()
	joinTask.Input = core.Payload{"joinOn": joinOn}
	return append(tasks, joinTask), nil
}

// dynamicTemplates decodes the runtime fan-out, which arrives as generic
// JSON-shaped data inside the resolved input.
func dynamicTemplates(value any) ([]*workflow.TaskTemplate, error) {
	if value == nil {
		return nil, fmt.Errorf("dynamic tasks parameter is missing")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var templates []*workflow.TaskTemplate
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

// Join emits the join marker; the executor completes it once every joined
// reference reaches a terminal status.
type Join struct{}

func (m *Join) MapTasks(_ context.Context, mc *Context) ([]*task.Task, error) {
	joinTask := mc.NewTask()
	joinTask.TaskType = task.TypeJoin
	joinTask.Status = task.StatusInProgress
	joinTask.StartTime = task.NowMillis()
	joinTask.Input = core.Payload{"joinOn": mc.TaskToSchedule.JoinOn}
	return []*task.Task{joinTask}, nil
}

// SubWorkflow emits a task whose input names the child definition to spawn.
type SubWorkflow struct{}

func (m *SubWorkflow) MapTasks(_ context.Context, mc *Context) ([]*task.Task, error) {
	wt := mc.TaskToSchedule
	if wt.SubWorkflowParam == nil {
		return nil, core.ErrInvalidInput("sub-workflow template %q has no sub-workflow parameters", wt.TaskReferenceName)
	}
	subTask := mc.NewTask()
	subTask.TaskType = task.TypeSubWorkflow
	input, err := core.DeepCopyPayload(mc.Input)
	if err != nil {
		return nil, err
	}
	if input == nil {
		input = core.Payload{}
	}
	input["subWorkflowName"] = wt.SubWorkflowParam.Name
	input["subWorkflowVersion"] = wt.SubWorkflowParam.Version
	subTask.Input = input
	return []*task.Task{subTask}, nil
}

// Wait parks the task IN_PROGRESS until an external completion arrives.
type Wait struct{}

func (m *Wait) MapTasks(_ context.Context, mc *Context) ([]*task.Task, error) {
	waitTask := mc.NewTask()
	waitTask.TaskType = task.TypeWait
	waitTask.Status = task.StatusInProgress
	waitTask.StartTime = task.NowMillis()
	return []*task.Task{waitTask}, nil
}

// Event emits a task bound to its sink.
type Event struct{}

func (m *Event) MapTasks(_ context.Context, mc *Context) ([]*task.Task, error) {
	eventTask := mc.NewTask()
	eventTask.TaskType = task.TypeEvent
	input, err := core.DeepCopyPayload(mc.Input)
	if err != nil {
		return nil, err
	}
	if input == nil {
		input = core.Payload{}
	}
	input["sink"] = mc.TaskToSchedule.Sink
	eventTask.Input = input
	return []*task.Task{eventTask}, nil
}

package workflow

import (
	"maps"
	"slices"

	"github.com/ropereraLK/conductor-community/engine/core"
	"github.com/ropereraLK/conductor-community/engine/task"
)

// SubWorkflowParams identifies the definition a SUB_WORKFLOW template spawns.
type SubWorkflowParams struct {
	Name    string `json:"name"    yaml:"name"`
	Version int    `json:"version" yaml:"version"`
}

// TaskTemplate is one node of a workflow definition. The zero type is SIMPLE.
// Branching templates (DECISION, FORK) carry their children inline; linkage
// between siblings is positional.
type TaskTemplate struct {
	Name              string       `json:"name"              yaml:"name"              validate:"required"`
	TaskReferenceName string       `json:"taskReferenceName" yaml:"task_reference_name" validate:"required"`
	Type              task.Type    `json:"type"              yaml:"type"`
	InputParameters   core.Payload `json:"inputParameters"   yaml:"input_parameters"`
	Optional          bool         `json:"optional"          yaml:"optional"`
	StartDelaySeconds int64        `json:"startDelay"        yaml:"start_delay"`

	// DECISION
	CaseValueParam string                     `json:"caseValueParam,omitempty" yaml:"case_value_param"`
	DecisionCases  map[string][]*TaskTemplate `json:"decisionCases,omitempty"  yaml:"decision_cases"`
	DefaultCase    []*TaskTemplate            `json:"defaultCase,omitempty"    yaml:"default_case"`

	// FORK / JOIN
	ForkTasks [][]*TaskTemplate `json:"forkTasks,omitempty" yaml:"fork_tasks"`
	JoinOn    []string          `json:"joinOn,omitempty"    yaml:"join_on"`

	// FORK_JOIN_DYNAMIC
	DynamicForkTasksParam      string `json:"dynamicForkTasksParam,omitempty"      yaml:"dynamic_fork_tasks_param"`
	DynamicForkTasksInputParam string `json:"dynamicForkTasksInputParam,omitempty" yaml:"dynamic_fork_tasks_input_param"`

	// SUB_WORKFLOW
	SubWorkflowParam *SubWorkflowParams `json:"subWorkflowParam,omitempty" yaml:"sub_workflow_param"`

	// EVENT
	Sink string `json:"sink,omitempty" yaml:"sink"`
}

// TaskType returns the effective type tag, defaulting to SIMPLE.
func (wt *TaskTemplate) TaskType() task.Type {
	if wt.Type == "" {
		return task.TypeSimple
	}
	return wt.Type
}

// children returns the nested branch lists of a branching template.
func (wt *TaskTemplate) children() [][]*TaskTemplate {
	switch wt.TaskType() {
	case task.TypeDecision:
		branches := make([][]*TaskTemplate, 0, len(wt.DecisionCases)+1)
		// sorted for a deterministic walk; decide() must be repeatable
		for _, caseValue := range slices.Sorted(maps.Keys(wt.DecisionCases)) {
			branches = append(branches, wt.DecisionCases[caseValue])
		}
		if len(wt.DefaultCase) > 0 {
			branches = append(branches, wt.DefaultCase)
		}
		return branches
	case task.TypeFork:
		return wt.ForkTasks
	default:
		return nil
	}
}

// has reports whether refName names this template or any nested one.
func (wt *TaskTemplate) has(refName string) bool {
	if wt.TaskReferenceName == refName {
		return true
	}
	for _, branch := range wt.children() {
		for _, child := range branch {
			if child.has(refName) {
				return true
			}
		}
	}
	return false
}

// next returns the template that follows refName inside this template, or nil
// when refName is not here or is the last of its branch. A fork branch that
// ends hands control to the template following the fork in the parent scope
// (the join, by construction).
func (wt *TaskTemplate) next(refName string, parent *TaskTemplate) *TaskTemplate {
	switch wt.TaskType() {
	case task.TypeDecision:
		for _, branch := range wt.children() {
			for i, child := range branch {
				if child.TaskReferenceName == refName {
					if i+1 < len(branch) {
						return branch[i+1]
					}
					break
				}
				if nextTask := child.next(refName, wt); nextTask != nil {
					return nextTask
				}
			}
		}
	case task.TypeFork:
		for _, branch := range wt.children() {
			found := false
			for i, child := range branch {
				if child.TaskReferenceName == refName {
					found = true
					if i+1 < len(branch) {
						return branch[i+1]
					}
					break
				}
				if nextTask := child.next(refName, wt); nextTask != nil {
					return nextTask
				}
			}
			if found && parent != nil {
				return parent.next(wt.TaskReferenceName, parent)
			}
		}
	}
	return nil
}

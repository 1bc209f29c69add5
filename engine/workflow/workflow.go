package workflow

import (
	"github.com/ropereraLK/conductor-community/engine/core"
	"github.com/ropereraLK/conductor-community/engine/task"
)

// Workflow is the mutable runtime record of one execution of a definition.
type Workflow struct {
	WorkflowID            core.ID      `json:"workflowId"`
	WorkflowType          string       `json:"workflowType"`
	Version               int          `json:"version"`
	Status                Status       `json:"status"`
	CorrelationID         string       `json:"correlationId,omitempty"`
	Input                 core.Payload `json:"input,omitempty"`
	Output                core.Payload `json:"output,omitempty"`
	ReRunFromWorkflowID   core.ID      `json:"reRunFromWorkflowId,omitempty"`
	ReasonForIncompletion string       `json:"reasonForIncompletion,omitempty"`
	Tasks                 []*task.Task `json:"tasks"`
	SchemaVersion         int          `json:"schemaVersion"`
	StartTime             int64        `json:"startTime"`
	EndTime               int64        `json:"endTime"`
	UpdateTime            int64        `json:"updateTime"`

	ExternalInputPath  string `json:"externalInputPayloadStoragePath,omitempty"`
	ExternalOutputPath string `json:"externalOutputPayloadStoragePath,omitempty"`
}

// Copy returns a deep copy of the workflow, tasks included.
func (w *Workflow) Copy() (*Workflow, error) {
	return core.DeepCopy(w)
}

// TaskByRefName returns the latest task recorded under refName, or nil. With
// retries several tasks share a reference name; the last one is the live
// attempt.
func (w *Workflow) TaskByRefName(refName string) *task.Task {
	var found *task.Task
	for _, t := range w.Tasks {
		if t.ReferenceName == refName {
			found = t
		}
	}
	return found
}

// TaskByID returns the task with the given id, or nil.
func (w *Workflow) TaskByID(taskID core.ID) *task.Task {
	for _, t := range w.Tasks {
		if t.TaskID == taskID {
			return t
		}
	}
	return nil
}

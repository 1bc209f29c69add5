package task

import "github.com/ropereraLK/conductor-community/engine/core"

// Result is the worker-facing update for a task: the terminal (or callback)
// status plus output and bookkeeping. It is handed to the workflow executor,
// which is the single writer of terminal transitions.
type Result struct {
	TaskID                core.ID      `json:"taskId"             validate:"required"`
	WorkflowInstanceID    core.ID      `json:"workflowInstanceId" validate:"required"`
	Status                Status       `json:"status"`
	Output                core.Payload `json:"outputData,omitempty"`
	ReasonForIncompletion string       `json:"reasonForIncompletion,omitempty"`
	CallbackAfterSeconds  int64        `json:"callbackAfterSeconds"`
	WorkerID              string       `json:"workerId,omitempty"`
	Logs                  []ExecLog    `json:"logs,omitempty"`
	ExternalOutputPath    string       `json:"externalOutputPayloadStoragePath,omitempty"`
}

// NewResult seeds a Result from the current state of a task.
func NewResult(t *Task) *Result {
	return &Result{
		TaskID:                t.TaskID,
		WorkflowInstanceID:    t.WorkflowInstanceID,
		Status:                t.Status,
		Output:                t.Output,
		ReasonForIncompletion: t.ReasonForIncompletion,
		CallbackAfterSeconds:  t.CallbackAfterSeconds,
		WorkerID:              t.WorkerID,
	}
}

// ExecLog is a worker-emitted log line attached to a task attempt.
type ExecLog struct {
	TaskID      core.ID `json:"taskId"`
	Log         string  `json:"log"`
	CreatedTime int64   `json:"createdTime"`
}

// PollData records the last observed poll per (queue, domain, worker).
type PollData struct {
	QueueName    string `json:"queueName"`
	Domain       string `json:"domain,omitempty"`
	WorkerID     string `json:"workerId,omitempty"`
	LastPollTime int64  `json:"lastPollTime"`
}

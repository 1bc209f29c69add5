package task

import (
	"time"

	"github.com/ropereraLK/conductor-community/engine/core"
)

// Task is a concrete attempt at executing a workflow-task template. Tasks are
// created SCHEDULED by the decider, move to IN_PROGRESS on a successful poll
// and reach a terminal status through a worker update or a timeout. Once
// Executed is set the record is immutable.
type Task struct {
	TaskID             core.ID      `json:"taskId"`
	ReferenceName      string       `json:"referenceTaskName"`
	TaskDefName        string       `json:"taskDefName"`
	TaskType           Type         `json:"taskType"`
	Status             Status       `json:"status"`
	WorkflowInstanceID core.ID      `json:"workflowInstanceId"`
	WorkflowType       string       `json:"workflowType"`
	Domain             string       `json:"domain,omitempty"`
	Input              core.Payload `json:"inputData,omitempty"`
	Output             core.Payload `json:"outputData,omitempty"`

	// Epoch milliseconds. ScheduledTime is set when the task is created,
	// StartTime on the first successful poll.
	ScheduledTime int64 `json:"scheduledTime"`
	StartTime     int64 `json:"startTime"`
	UpdateTime    int64 `json:"updateTime"`
	EndTime       int64 `json:"endTime"`

	PollCount             int     `json:"pollCount"`
	RetryCount            int     `json:"retryCount"`
	RetriedTaskID         core.ID `json:"retriedTaskId,omitempty"`
	StartDelaySeconds     int64   `json:"startDelayInSeconds"`
	CallbackAfterSeconds  int64   `json:"callbackAfterSeconds"`
	WorkerID              string  `json:"workerId,omitempty"`
	ReasonForIncompletion string  `json:"reasonForIncompletion,omitempty"`

	// Executed marks the task as processed by the decider (next tasks were
	// scheduled). Retried marks that a successor retry attempt exists.
	Executed bool `json:"executed"`
	Retried  bool `json:"retried"`

	ExternalInputPath  string `json:"externalInputPayloadStoragePath,omitempty"`
	ExternalOutputPath string `json:"externalOutputPayloadStoragePath,omitempty"`
}

// Copy returns a deep copy of the task.
func (t *Task) Copy() (*Task, error) {
	return core.DeepCopy(t)
}

// QueueWaitTime returns how long the task sat in its queue before the first
// poll, in milliseconds. Zero until the task has been polled.
func (t *Task) QueueWaitTime() int64 {
	if t.StartTime > 0 && t.ScheduledTime > 0 {
		if t.UpdateTime > 0 && t.CallbackAfterSeconds > 0 {
			// a callback moves the visibility deadline; wait is measured from
			// the updated deadline, not the original schedule
			waitTime := t.StartTime - (t.UpdateTime + t.CallbackAfterSeconds*1000)
			if waitTime > 0 {
				return waitTime
			}
			return 0
		}
		return t.StartTime - t.ScheduledTime
	}
	return 0
}

// NowMillis returns the current wall-clock time in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

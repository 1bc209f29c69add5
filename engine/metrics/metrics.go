package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	taskTimeoutMetric         = "conductor_task_timeout_total"
	taskResponseTimeoutMetric = "conductor_task_response_timeout_total"
	taskPollMetric            = "conductor_task_poll_total"
	taskQueueWaitMetric       = "conductor_task_queue_wait_seconds"
	payloadUsageMetric        = "conductor_external_payload_usage_total"
	workflowTerminationMetric = "conductor_workflow_termination_total"

	labelTaskDef   = "task_def"
	labelQueue     = "queue"
	labelName      = "name"
	labelOperation = "operation"
	labelPayload   = "payload_type"
	labelStatus    = "status"
)

var queueWaitBuckets = []float64{
	0.01,
	0.05,
	0.1,
	0.5,
	1,
	5,
	15,
	60,
	300,
	900,
}

// Monitor emits the engine's operational metrics. A nil *Monitor is valid and
// drops everything, so collaborators never need to nil-check.
type Monitor struct {
	taskTimeouts         *prometheus.CounterVec
	taskResponseTimeouts *prometheus.CounterVec
	taskPolls            *prometheus.CounterVec
	taskQueueWait        *prometheus.HistogramVec
	payloadUsage         *prometheus.CounterVec
	workflowTermination  *prometheus.CounterVec
}

func NewMonitor(reg prometheus.Registerer) *Monitor {
	factory := promauto.With(reg)
	return &Monitor{
		taskTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: taskTimeoutMetric,
			Help: "Tasks that exceeded their execution timeout.",
		}, []string{labelTaskDef}),
		taskResponseTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: taskResponseTimeoutMetric,
			Help: "Tasks that exceeded their response timeout.",
		}, []string{labelTaskDef}),
		taskPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: taskPollMetric,
			Help: "Poll requests per queue.",
		}, []string{labelQueue}),
		taskQueueWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    taskQueueWaitMetric,
			Help:    "Time tasks spent queued before the first poll.",
			Buckets: queueWaitBuckets,
		}, []string{labelTaskDef}),
		payloadUsage: factory.NewCounterVec(prometheus.CounterOpts{
			Name: payloadUsageMetric,
			Help: "External payload storage operations.",
		}, []string{labelName, labelOperation, labelPayload}),
		workflowTermination: factory.NewCounterVec(prometheus.CounterOpts{
			Name: workflowTerminationMetric,
			Help: "Workflows driven to a terminal status by the decider.",
		}, []string{labelStatus}),
	}
}

func (m *Monitor) RecordTaskTimeout(taskDefName string) {
	if m == nil {
		return
	}
	m.taskTimeouts.WithLabelValues(taskDefName).Inc()
}

func (m *Monitor) RecordTaskResponseTimeout(taskDefName string) {
	if m == nil {
		return
	}
	m.taskResponseTimeouts.WithLabelValues(taskDefName).Inc()
}

func (m *Monitor) RecordTaskPoll(queueName string) {
	if m == nil {
		return
	}
	m.taskPolls.WithLabelValues(queueName).Inc()
}

func (m *Monitor) RecordQueueWaitTime(taskDefName string, waitMillis int64) {
	if m == nil {
		return
	}
	m.taskQueueWait.WithLabelValues(taskDefName).Observe(float64(waitMillis) / 1000)
}

func (m *Monitor) RecordPayloadUsage(name, operation, payloadType string) {
	if m == nil {
		return
	}
	m.payloadUsage.WithLabelValues(name, operation, payloadType).Inc()
}

func (m *Monitor) RecordWorkflowTermination(status string) {
	if m == nil {
		return
	}
	m.workflowTermination.WithLabelValues(status).Inc()
}

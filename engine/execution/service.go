// Package execution is the worker-facing service of the engine: polling,
// acking, task updates, requeue sweeps, search, and execution logs. It owns no
// workflow state transitions itself; terminal transitions go through the
// workflow executor, which is their single writer.
package execution

import (
	"context"
	"time"

	"github.com/ropereraLK/conductor-community/engine/core"
	"github.com/ropereraLK/conductor-community/engine/metrics"
	"github.com/ropereraLK/conductor-community/engine/queue"
	"github.com/ropereraLK/conductor-community/engine/store"
	"github.com/ropereraLK/conductor-community/engine/task"
	"github.com/ropereraLK/conductor-community/engine/workflow"
	"github.com/ropereraLK/conductor-community/pkg/config"
	"github.com/ropereraLK/conductor-community/pkg/logger"
)

// maxPollTimeout caps long polls so a worker cannot hold a server thread open
// indefinitely.
const maxPollTimeout = 5 * time.Second

// WorkflowExecutor applies a worker-reported task result to its workflow. The
// executor serializes updates per workflow id and re-runs the decider.
type WorkflowExecutor interface {
	UpdateTask(ctx context.Context, result *task.Result) error
}

type Service struct {
	exec     store.Execution
	metadata store.Metadata
	index    store.Index
	queue    queue.Queue
	executor WorkflowExecutor
	cfg      *config.Config
	monitor  *metrics.Monitor
}

func NewService(exec store.Execution, metadata store.Metadata, index store.Index, q queue.Queue, executor WorkflowExecutor, cfg *config.Config, monitor *metrics.Monitor) *Service {
	return &Service{
		exec:     exec,
		metadata: metadata,
		index:    index,
		queue:    q,
		executor: executor,
		cfg:      cfg,
		monitor:  monitor,
	}
}

// -----------------------------------------------------------------------------
// Polling
// -----------------------------------------------------------------------------

// Poll long-polls one task for a worker. It returns nil when nothing is
// available within the timeout.
func (s *Service) Poll(ctx context.Context, taskType, workerID, domain string, timeout time.Duration) (*task.Task, error) {
	tasks, err := s.BatchPoll(ctx, taskType, workerID, domain, 1, timeout)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return tasks[0], nil
}

// BatchPoll long-polls up to count tasks, marking each IN_PROGRESS and
// assigning it to the worker. Tasks whose definition caps concurrent
// executions are skipped when the cap is reached; the unack timer returns
// their ids to the queue.
func (s *Service) BatchPoll(ctx context.Context, taskType, workerID, domain string, count int, timeout time.Duration) ([]*task.Task, error) {
	if timeout > maxPollTimeout {
		return nil, core.ErrInvalidInput("long poll timeout cannot be more than %s", maxPollTimeout)
	}
	log := logger.FromContext(ctx)
	queueName := queue.Name(taskType, domain)

	ids, err := s.queue.Pop(ctx, queueName, count, timeout)
	if err != nil {
		return nil, err
	}

	polled := make([]*task.Task, 0, len(ids))
	for _, taskID := range ids {
		t, err := s.exec.GetTask(ctx, taskID)
		if err != nil {
			if core.IsNotFound(err) {
				log.Warn("queued task no longer exists", "task_id", taskID, "queue", queueName)
				continue
			}
			return nil, err
		}

		limited, err := s.overConcurrencyLimit(ctx, t)
		if err != nil {
			return nil, err
		}
		if limited {
			log.Debug("concurrency limit reached, task not handed out",
				"task_id", t.TaskID, "task_def", t.TaskDefName)
			continue
		}

		t.Status = task.StatusInProgress
		if t.StartTime == 0 {
			t.StartTime = task.NowMillis()
			s.monitor.RecordQueueWaitTime(t.TaskDefName, t.QueueWaitTime())
		}
		t.WorkerID = workerID
		t.PollCount++
		if err := s.exec.UpdateTask(ctx, t); err != nil {
			return nil, err
		}
		polled = append(polled, t)
	}

	if err := s.exec.UpdateLastPoll(ctx, taskType, domain, workerID); err != nil {
		return nil, err
	}
	s.monitor.RecordTaskPoll(queueName)
	return polled, nil
}

// overConcurrencyLimit applies poll back-pressure from the task definition's
// concurrent execution cap. No definition or no cap means no limit.
func (s *Service) overConcurrencyLimit(ctx context.Context, t *task.Task) (bool, error) {
	def, err := s.metadata.GetTaskDef(ctx, t.TaskDefName)
	if err != nil {
		if core.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if def.ConcurrentExecLimit <= 0 {
		return false, nil
	}
	inProgress, err := s.exec.InProgressCount(ctx, t.TaskDefName)
	if err != nil {
		return false, err
	}
	return inProgress >= def.ConcurrentExecLimit, nil
}

// GetLastPollTask returns the most recently created poll slot for a worker
// without long-polling.
func (s *Service) GetLastPollTask(ctx context.Context, taskType, workerID, domain string) (*task.Task, error) {
	return s.Poll(ctx, taskType, workerID, domain, 100*time.Millisecond)
}

// -----------------------------------------------------------------------------
// Task lifecycle
// -----------------------------------------------------------------------------

// Ack confirms receipt of a polled task, removing its id from the unacked
// area so the visibility timer cannot return it.
func (s *Service) Ack(ctx context.Context, taskID core.ID) (bool, error) {
	t, err := s.exec.GetTask(ctx, taskID)
	if err != nil {
		if core.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return s.queue.Ack(ctx, queue.NameOf(t), taskID)
}

// UpdateTask applies a worker-reported result through the workflow executor.
func (s *Service) UpdateTask(ctx context.Context, result *task.Result) error {
	return s.executor.UpdateTask(ctx, result)
}

func (s *Service) GetTask(ctx context.Context, taskID core.ID) (*task.Task, error) {
	return s.exec.GetTask(ctx, taskID)
}

// GetTasks loads tasks by id, eliding ids that no longer resolve.
func (s *Service) GetTasks(ctx context.Context, taskIDs []core.ID) ([]*task.Task, error) {
	tasks := make([]*task.Task, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		t, err := s.exec.GetTask(ctx, taskID)
		if err != nil {
			if core.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// GetPendingTaskForWorkflow returns the live non-terminal task recorded under
// refName in the given workflow.
func (s *Service) GetPendingTaskForWorkflow(ctx context.Context, workflowID core.ID, refName string) (*task.Task, error) {
	w, err := s.exec.GetWorkflow(ctx, workflowID, true)
	if err != nil {
		return nil, err
	}
	for _, t := range w.Tasks {
		if t.ReferenceName == refName && !t.Status.IsTerminal() {
			return t, nil
		}
	}
	return nil, core.ErrNotFound("no pending task %q in workflow %q", refName, workflowID)
}

// RemoveTaskFromQueue deletes a task's id from its queue, visible or unacked.
func (s *Service) RemoveTaskFromQueue(ctx context.Context, taskID core.ID) error {
	t, err := s.exec.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	return s.queue.Remove(ctx, queue.NameOf(t), taskID)
}

// -----------------------------------------------------------------------------
// Requeue sweeps
// -----------------------------------------------------------------------------

// RequeuePendingTasks sweeps every known workflow definition and pushes back
// pending tasks that have not been touched within the requeue timeout. It
// returns the number of tasks requeued.
func (s *Service) RequeuePendingTasks(ctx context.Context) (int, error) {
	log := logger.FromContext(ctx)
	threshold := task.NowMillis() - s.cfg.Task.RequeueTimeout

	defs, err := s.metadata.GetAllWorkflowDefs(ctx)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, def := range defs {
		running, err := s.exec.GetRunningWorkflows(ctx, def.Name)
		if err != nil {
			return requeued, err
		}
		for _, w := range running {
			for _, t := range w.Tasks {
				if t.TaskType.IsSystem() || t.Status.IsTerminal() {
					continue
				}
				if t.UpdateTime >= threshold {
					continue
				}
				delay := max(t.CallbackAfterSeconds, 0)
				pushed, err := s.queue.PushIfNotExists(ctx, queue.NameOf(t), t.TaskID, time.Duration(delay)*time.Second)
				if err != nil {
					return requeued, err
				}
				if pushed {
					requeued++
				}
			}
		}
	}
	log.Debug("stale pending tasks requeued", "count", requeued)
	return requeued, nil
}

// RequeuePendingTasksForType re-pushes every pending task of one type with
// the remainder of its callback delay, replacing whatever is queued.
func (s *Service) RequeuePendingTasksForType(ctx context.Context, taskType string) (int, error) {
	pending, err := s.exec.GetPendingTasksForType(ctx, taskType)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, t := range pending {
		if t.TaskType.IsSystem() || t.Status.IsTerminal() {
			continue
		}
		queueName := queue.NameOf(t)
		if err := s.queue.Remove(ctx, queueName, t.TaskID); err != nil {
			return requeued, err
		}
		delay := t.CallbackAfterSeconds - (task.NowMillis()-t.UpdateTime)/1000
		delay = max(delay, 0)
		pushed, err := s.queue.PushIfNotExists(ctx, queueName, t.TaskID, time.Duration(delay)*time.Second)
		if err != nil {
			return requeued, err
		}
		if pushed {
			requeued++
		}
	}
	return requeued, nil
}

// -----------------------------------------------------------------------------
// Queues and poll data
// -----------------------------------------------------------------------------

// GetTaskQueueSizes reports the visible depth of each requested task type's
// queue.
func (s *Service) GetTaskQueueSizes(ctx context.Context, taskTypes []string) (map[string]int64, error) {
	sizes := make(map[string]int64, len(taskTypes))
	for _, taskType := range taskTypes {
		size, err := s.queue.Size(ctx, taskType)
		if err != nil {
			return nil, err
		}
		sizes[taskType] = size
	}
	return sizes, nil
}

// GetQueuesDetail reports the depth of every known queue.
func (s *Service) GetQueuesDetail(ctx context.Context) (map[string]int64, error) {
	return s.queue.QueuesDetail(ctx)
}

func (s *Service) GetPollData(ctx context.Context, taskType string) ([]*task.PollData, error) {
	return s.exec.GetPollData(ctx, taskType)
}

// GetAllPollData aggregates poll data across every known queue. Domain
// qualified queue names are skipped; their data is reported under the bare
// task type.
func (s *Service) GetAllPollData(ctx context.Context) ([]*task.PollData, error) {
	detail, err := s.queue.QueuesDetail(ctx)
	if err != nil {
		return nil, err
	}
	var all []*task.PollData
	for queueName := range detail {
		if queue.WithoutDomain(queueName) != queueName {
			continue
		}
		data, err := s.exec.GetPollData(ctx, queueName)
		if err != nil {
			return nil, err
		}
		all = append(all, data...)
	}
	return all, nil
}

// -----------------------------------------------------------------------------
// Workflow reads
// -----------------------------------------------------------------------------

func (s *Service) GetWorkflow(ctx context.Context, workflowID core.ID, includeTasks bool) (*workflow.Workflow, error) {
	return s.exec.GetWorkflow(ctx, workflowID, includeTasks)
}

// GetWorkflowInstances returns the executions of a definition sharing a
// correlation id, optionally including closed ones.
func (s *Service) GetWorkflowInstances(ctx context.Context, workflowName, correlationID string, includeClosed, includeTasks bool) ([]*workflow.Workflow, error) {
	correlated, err := s.exec.GetWorkflowsByCorrelationID(ctx, correlationID, includeTasks)
	if err != nil {
		return nil, err
	}
	var matched []*workflow.Workflow
	for _, w := range correlated {
		if w.WorkflowType != workflowName {
			continue
		}
		if !includeClosed && w.Status.IsTerminal() {
			continue
		}
		matched = append(matched, w)
	}
	return matched, nil
}

func (s *Service) RemoveWorkflow(ctx context.Context, workflowID core.ID) error {
	return s.exec.RemoveWorkflow(ctx, workflowID)
}

// -----------------------------------------------------------------------------
// Search
// -----------------------------------------------------------------------------

// SearchWorkflows queries the index and loads each hit. Hits that fail to
// load are elided and subtracted from the reported total.
func (s *Service) SearchWorkflows(ctx context.Context, query, freeText string, start, size int, sort []string) (*store.SearchResult[*workflow.Workflow], error) {
	if err := s.checkSearchSize(size); err != nil {
		return nil, err
	}
	hits, err := s.index.SearchWorkflows(ctx, query, freeText, start, size, sort)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)
	result := &store.SearchResult[*workflow.Workflow]{TotalHits: hits.TotalHits}
	for _, workflowID := range hits.Results {
		w, err := s.exec.GetWorkflow(ctx, workflowID, false)
		if err != nil {
			log.Error("indexed workflow failed to load", "workflow_id", workflowID, "error", err)
			result.TotalHits--
			continue
		}
		result.Results = append(result.Results, w)
	}
	return result, nil
}

// SearchTasks queries the index and loads each hit, eliding load failures.
func (s *Service) SearchTasks(ctx context.Context, query, freeText string, start, size int, sort []string) (*store.SearchResult[*task.Task], error) {
	if err := s.checkSearchSize(size); err != nil {
		return nil, err
	}
	hits, err := s.index.SearchTasks(ctx, query, freeText, start, size, sort)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)
	result := &store.SearchResult[*task.Task]{TotalHits: hits.TotalHits}
	for _, taskID := range hits.Results {
		t, err := s.exec.GetTask(ctx, taskID)
		if err != nil {
			log.Error("indexed task failed to load", "task_id", taskID, "error", err)
			result.TotalHits--
			continue
		}
		result.Results = append(result.Results, t)
	}
	return result, nil
}

func (s *Service) checkSearchSize(size int) error {
	if size > s.cfg.Workflow.MaxSearchSize {
		return core.ErrInvalidInput("cannot return more than %d results; use pagination", s.cfg.Workflow.MaxSearchSize)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Execution logs
// -----------------------------------------------------------------------------

// Log attaches a worker-emitted log line to a task attempt.
func (s *Service) Log(ctx context.Context, taskID core.ID, logLine string) error {
	return s.exec.AddTaskExecLogs(ctx, []task.ExecLog{{
		TaskID:      taskID,
		Log:         logLine,
		CreatedTime: task.NowMillis(),
	}})
}

func (s *Service) GetTaskLogs(ctx context.Context, taskID core.ID) ([]task.ExecLog, error) {
	return s.index.GetTaskExecLogs(ctx, taskID)
}

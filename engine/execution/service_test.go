package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ropereraLK/conductor-community/engine/core"
	"github.com/ropereraLK/conductor-community/engine/queue"
	"github.com/ropereraLK/conductor-community/engine/store"
	"github.com/ropereraLK/conductor-community/engine/task"
	"github.com/ropereraLK/conductor-community/engine/workflow"
	"github.com/ropereraLK/conductor-community/pkg/config"
)

// stubExecutor records the results handed to the workflow executor.
type stubExecutor struct {
	updated []*task.Result
}

func (e *stubExecutor) UpdateTask(_ context.Context, result *task.Result) error {
	e.updated = append(e.updated, result)
	return nil
}

// stubIndex serves canned search hits and delegates logs to the store.
type stubIndex struct {
	store        *store.InMemory
	workflowHits *store.SearchResult[core.ID]
	taskHits     *store.SearchResult[core.ID]
}

func (i *stubIndex) SearchWorkflows(_ context.Context, _, _ string, _, _ int, _ []string) (*store.SearchResult[core.ID], error) {
	return i.workflowHits, nil
}

func (i *stubIndex) SearchTasks(_ context.Context, _, _ string, _, _ int, _ []string) (*store.SearchResult[core.ID], error) {
	return i.taskHits, nil
}

func (i *stubIndex) GetTaskExecLogs(ctx context.Context, taskID core.ID) ([]task.ExecLog, error) {
	return i.store.GetTaskExecLogs(ctx, taskID)
}

type harness struct {
	service  *Service
	store    *store.InMemory
	queue    *queue.InMemory
	executor *stubExecutor
	index    *stubIndex
}

func newHarness() *harness {
	st := store.NewInMemory()
	q := queue.NewInMemory(time.Minute)
	executor := &stubExecutor{}
	index := &stubIndex{store: st}
	return &harness{
		service:  NewService(st, st, index, q, executor, config.Default(), nil),
		store:    st,
		queue:    q,
		executor: executor,
		index:    index,
	}
}

// enqueue persists a scheduled task and pushes its id to its queue.
func (h *harness) enqueue(t *testing.T, tk *task.Task) {
	t.Helper()
	require.NoError(t, h.store.UpdateTask(context.Background(), tk))
	require.NoError(t, h.queue.Push(context.Background(), queue.NameOf(tk), tk.TaskID, 0))
}

func scheduledTask(defName string) *task.Task {
	return &task.Task{
		TaskID:             core.NewID(),
		ReferenceName:      defName + "_ref",
		TaskDefName:        defName,
		TaskType:           task.TypeSimple,
		Status:             task.StatusScheduled,
		WorkflowInstanceID: core.NewID(),
		ScheduledTime:      task.NowMillis(),
	}
}

func TestService_Poll(t *testing.T) {
	ctx := context.Background()

	t.Run("Should hand a queued task to the worker in progress", func(t *testing.T) {
		h := newHarness()
		tk := scheduledTask("encode")
		h.enqueue(t, tk)

		polled, err := h.service.Poll(ctx, task.TypeSimple.String(), "worker-1", "", 100*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, polled)

		assert.Equal(t, tk.TaskID, polled.TaskID)
		assert.Equal(t, task.StatusInProgress, polled.Status)
		assert.Equal(t, "worker-1", polled.WorkerID)
		assert.Equal(t, 1, polled.PollCount)
		assert.NotZero(t, polled.StartTime)
	})

	t.Run("Should return nil when nothing is queued", func(t *testing.T) {
		h := newHarness()
		polled, err := h.service.Poll(ctx, task.TypeSimple.String(), "worker-1", "", 20*time.Millisecond)
		require.NoError(t, err)
		assert.Nil(t, polled)
	})

	t.Run("Should reject a long poll above five seconds", func(t *testing.T) {
		h := newHarness()
		_, err := h.service.Poll(ctx, task.TypeSimple.String(), "worker-1", "", 6*time.Second)
		require.Error(t, err)
		assert.True(t, core.IsInvalidInput(err))
	})

	t.Run("Should batch poll several tasks at once", func(t *testing.T) {
		h := newHarness()
		first := scheduledTask("encode")
		second := scheduledTask("archive")
		h.enqueue(t, first)
		h.enqueue(t, second)

		polled, err := h.service.BatchPoll(ctx, task.TypeSimple.String(), "worker-1", "", 5, 100*time.Millisecond)
		require.NoError(t, err)
		assert.Len(t, polled, 2)
	})

	t.Run("Should skip a dangling queue id whose task is gone", func(t *testing.T) {
		h := newHarness()
		require.NoError(t, h.queue.Push(ctx, task.TypeSimple.String(), "ghost", 0))

		polled, err := h.service.BatchPoll(ctx, task.TypeSimple.String(), "worker-1", "", 1, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Empty(t, polled)
	})

	t.Run("Should hold back tasks over the concurrency limit", func(t *testing.T) {
		h := newHarness()
		def := task.NewDef("encode")
		def.ConcurrentExecLimit = 1
		h.store.AddTaskDef(def)

		running := scheduledTask("encode")
		running.Status = task.StatusInProgress
		require.NoError(t, h.store.UpdateTask(ctx, running))

		queued := scheduledTask("encode")
		h.enqueue(t, queued)

		polled, err := h.service.BatchPoll(ctx, task.TypeSimple.String(), "worker-1", "", 1, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Empty(t, polled)
		assert.Equal(t, task.StatusScheduled, queued.Status)
	})

	t.Run("Should record the last poll per worker and domain", func(t *testing.T) {
		h := newHarness()
		_, err := h.service.Poll(ctx, "SIMPLE", "worker-7", "eu", 10*time.Millisecond)
		require.NoError(t, err)

		data, err := h.service.GetPollData(ctx, "SIMPLE")
		require.NoError(t, err)
		require.Len(t, data, 1)
		assert.Equal(t, "worker-7", data[0].WorkerID)
		assert.Equal(t, "eu", data[0].Domain)
		assert.NotZero(t, data[0].LastPollTime)
	})
}

func TestService_AckAndUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("Should ack a polled task", func(t *testing.T) {
		h := newHarness()
		tk := scheduledTask("encode")
		h.enqueue(t, tk)

		_, err := h.service.Poll(ctx, task.TypeSimple.String(), "worker-1", "", 100*time.Millisecond)
		require.NoError(t, err)

		acked, err := h.service.Ack(ctx, tk.TaskID)
		require.NoError(t, err)
		assert.True(t, acked)

		exists, err := h.queue.Exists(ctx, queue.NameOf(tk), tk.TaskID)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("Should report false for an unknown task id", func(t *testing.T) {
		h := newHarness()
		acked, err := h.service.Ack(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, acked)
	})

	t.Run("Should route task results through the workflow executor", func(t *testing.T) {
		h := newHarness()
		result := &task.Result{TaskID: "t-1", WorkflowInstanceID: "wf-1", Status: task.StatusCompleted}

		require.NoError(t, h.service.UpdateTask(ctx, result))
		require.Len(t, h.executor.updated, 1)
		assert.Equal(t, result, h.executor.updated[0])
	})

	t.Run("Should remove a task id from its queue", func(t *testing.T) {
		h := newHarness()
		tk := scheduledTask("encode")
		h.enqueue(t, tk)

		require.NoError(t, h.service.RemoveTaskFromQueue(ctx, tk.TaskID))
		exists, err := h.queue.Exists(ctx, queue.NameOf(tk), tk.TaskID)
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestService_Requeue(t *testing.T) {
	ctx := context.Background()

	t.Run("Should requeue a stale pending task during the sweep", func(t *testing.T) {
		h := newHarness()
		def := &workflow.Def{
			Name: "encode_and_archive", Version: 1, SchemaVersion: 2,
			Tasks: []*workflow.TaskTemplate{{Name: "encode", TaskReferenceName: "encode_ref"}},
		}
		h.store.AddWorkflowDef(def)

		stale := scheduledTask("encode")
		stale.Status = task.StatusInProgress
		stale.UpdateTime = task.NowMillis() - 120_000
		h.store.AddWorkflow(&workflow.Workflow{
			WorkflowID:   stale.WorkflowInstanceID,
			WorkflowType: def.Name,
			Status:       workflow.StatusRunning,
			Tasks:        []*task.Task{stale},
		})

		requeued, err := h.service.RequeuePendingTasks(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, requeued)

		exists, err := h.queue.Exists(ctx, queue.NameOf(stale), stale.TaskID)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("Should leave fresh and system tasks alone during the sweep", func(t *testing.T) {
		h := newHarness()
		def := &workflow.Def{
			Name: "encode_and_archive", Version: 1, SchemaVersion: 2,
			Tasks: []*workflow.TaskTemplate{{Name: "encode", TaskReferenceName: "encode_ref"}},
		}
		h.store.AddWorkflowDef(def)

		fresh := scheduledTask("encode")
		fresh.UpdateTime = task.NowMillis()
		marker := scheduledTask("route")
		marker.TaskType = task.TypeDecision
		marker.UpdateTime = task.NowMillis() - 120_000
		h.store.AddWorkflow(&workflow.Workflow{
			WorkflowID:   fresh.WorkflowInstanceID,
			WorkflowType: def.Name,
			Status:       workflow.StatusRunning,
			Tasks:        []*task.Task{fresh, marker},
		})

		requeued, err := h.service.RequeuePendingTasks(ctx)
		require.NoError(t, err)
		assert.Zero(t, requeued)
	})

	t.Run("Should requeue pending tasks of one type with their remaining delay", func(t *testing.T) {
		h := newHarness()
		pending := scheduledTask("encode")
		pending.UpdateTime = task.NowMillis()
		require.NoError(t, h.store.UpdateTask(ctx, pending))

		requeued, err := h.service.RequeuePendingTasksForType(ctx, task.TypeSimple.String())
		require.NoError(t, err)
		assert.Equal(t, 1, requeued)

		exists, err := h.queue.Exists(ctx, queue.NameOf(pending), pending.TaskID)
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestService_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("Should elide workflows the index knows but the store lost", func(t *testing.T) {
		h := newHarness()
		w := &workflow.Workflow{WorkflowID: "wf-1", WorkflowType: "encode_and_archive", Status: workflow.StatusCompleted}
		h.store.AddWorkflow(w)
		h.index.workflowHits = &store.SearchResult[core.ID]{TotalHits: 2, Results: []core.ID{"wf-1", "wf-gone"}}

		result, err := h.service.SearchWorkflows(ctx, "", "*", 0, 10, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.TotalHits)
		require.Len(t, result.Results, 1)
		assert.Equal(t, core.ID("wf-1"), result.Results[0].WorkflowID)
	})

	t.Run("Should reject a page size above the configured maximum", func(t *testing.T) {
		h := newHarness()
		_, err := h.service.SearchWorkflows(ctx, "", "*", 0, 50_000, nil)
		require.Error(t, err)
		assert.True(t, core.IsInvalidInput(err))

		_, err = h.service.SearchTasks(ctx, "", "*", 0, 50_000, nil)
		require.Error(t, err)
		assert.True(t, core.IsInvalidInput(err))
	})

	t.Run("Should load task hits from the execution store", func(t *testing.T) {
		h := newHarness()
		tk := scheduledTask("encode")
		require.NoError(t, h.store.UpdateTask(ctx, tk))
		h.index.taskHits = &store.SearchResult[core.ID]{TotalHits: 1, Results: []core.ID{tk.TaskID}}

		result, err := h.service.SearchTasks(ctx, "", "*", 0, 10, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.TotalHits)
		require.Len(t, result.Results, 1)
		assert.Equal(t, tk.TaskID, result.Results[0].TaskID)
	})
}

func TestService_WorkflowReads(t *testing.T) {
	ctx := context.Background()

	t.Run("Should find the pending task of a workflow by reference name", func(t *testing.T) {
		h := newHarness()
		done := scheduledTask("encode")
		done.Status = task.StatusCompleted
		pending := scheduledTask("archive")
		w := &workflow.Workflow{
			WorkflowID:   core.NewID(),
			WorkflowType: "encode_and_archive",
			Status:       workflow.StatusRunning,
			Tasks:        []*task.Task{done, pending},
		}
		h.store.AddWorkflow(w)

		found, err := h.service.GetPendingTaskForWorkflow(ctx, w.WorkflowID, "archive_ref")
		require.NoError(t, err)
		assert.Equal(t, pending.TaskID, found.TaskID)

		_, err = h.service.GetPendingTaskForWorkflow(ctx, w.WorkflowID, "encode_ref")
		require.Error(t, err)
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("Should filter correlated workflows by name and liveness", func(t *testing.T) {
		h := newHarness()
		open := &workflow.Workflow{WorkflowID: "wf-open", WorkflowType: "encode_and_archive", CorrelationID: "order-9", Status: workflow.StatusRunning}
		closed := &workflow.Workflow{WorkflowID: "wf-closed", WorkflowType: "encode_and_archive", CorrelationID: "order-9", Status: workflow.StatusCompleted}
		other := &workflow.Workflow{WorkflowID: "wf-other", WorkflowType: "cleanup", CorrelationID: "order-9", Status: workflow.StatusRunning}
		h.store.AddWorkflow(open)
		h.store.AddWorkflow(closed)
		h.store.AddWorkflow(other)

		live, err := h.service.GetWorkflowInstances(ctx, "encode_and_archive", "order-9", false, false)
		require.NoError(t, err)
		require.Len(t, live, 1)
		assert.Equal(t, core.ID("wf-open"), live[0].WorkflowID)

		all, err := h.service.GetWorkflowInstances(ctx, "encode_and_archive", "order-9", true, false)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("Should remove a workflow and its tasks", func(t *testing.T) {
		h := newHarness()
		tk := scheduledTask("encode")
		w := &workflow.Workflow{WorkflowID: tk.WorkflowInstanceID, WorkflowType: "encode_and_archive", Status: workflow.StatusCompleted, Tasks: []*task.Task{tk}}
		h.store.AddWorkflow(w)

		require.NoError(t, h.service.RemoveWorkflow(ctx, w.WorkflowID))
		_, err := h.service.GetWorkflow(ctx, w.WorkflowID, true)
		require.Error(t, err)
		assert.True(t, core.IsNotFound(err))
		_, err = h.service.GetTask(ctx, tk.TaskID)
		require.Error(t, err)
		assert.True(t, core.IsNotFound(err))
	})
}

func TestService_Logs(t *testing.T) {
	ctx := context.Background()

	t.Run("Should attach and read back execution logs", func(t *testing.T) {
		h := newHarness()
		require.NoError(t, h.service.Log(ctx, "t-1", "downloading source"))
		require.NoError(t, h.service.Log(ctx, "t-1", "encoding"))

		logs, err := h.service.GetTaskLogs(ctx, "t-1")
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "downloading source", logs[0].Log)
		assert.NotZero(t, logs[0].CreatedTime)
	})
}

func TestService_QueueSizes(t *testing.T) {
	t.Run("Should report per-type queue depths", func(t *testing.T) {
		ctx := context.Background()
		h := newHarness()
		require.NoError(t, h.queue.Push(ctx, "SIMPLE", "a", 0))
		require.NoError(t, h.queue.Push(ctx, "SIMPLE", "b", 0))

		sizes, err := h.service.GetTaskQueueSizes(ctx, []string{"SIMPLE", "WAIT"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), sizes["SIMPLE"])
		assert.Equal(t, int64(0), sizes["WAIT"])
	})
}

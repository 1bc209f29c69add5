package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/ropereraLK/conductor-community/engine/core"
	"github.com/ropereraLK/conductor-community/engine/task"
	"github.com/ropereraLK/conductor-community/engine/workflow"
)

// InMemory implements Metadata and Execution over plain maps. It backs tests
// and embedded single-process deployments; everything is guarded by a single
// RWMutex, which is plenty at that scale.
type InMemory struct {
	mu           sync.RWMutex
	workflowDefs map[string]*workflow.Def
	taskDefs     map[string]*task.Def
	workflows    map[core.ID]*workflow.Workflow
	tasks        map[core.ID]*task.Task
	pollData     map[string]*task.PollData
	execLogs     map[core.ID][]task.ExecLog
}

func NewInMemory() *InMemory {
	return &InMemory{
		workflowDefs: make(map[string]*workflow.Def),
		taskDefs:     make(map[string]*task.Def),
		workflows:    make(map[core.ID]*workflow.Workflow),
		tasks:        make(map[core.ID]*task.Task),
		pollData:     make(map[string]*task.PollData),
		execLogs:     make(map[core.ID][]task.ExecLog),
	}
}

// -----------------------------------------------------------------------------
// Metadata
// -----------------------------------------------------------------------------

func (s *InMemory) AddWorkflowDef(def *workflow.Def) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflowDefs[def.Key()] = def
}

func (s *InMemory) AddTaskDef(def *task.Def) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskDefs[def.Name] = def
}

func (s *InMemory) GetWorkflowDef(_ context.Context, name string, version int) (*workflow.Def, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.workflowDefs[fmt.Sprintf("%s.%d", name, version)]
	if !ok {
		return nil, core.ErrNotFound("workflow definition %q version %d not found", name, version)
	}
	return def, nil
}

func (s *InMemory) GetAllWorkflowDefs(_ context.Context) ([]*workflow.Def, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defs := make([]*workflow.Def, 0, len(s.workflowDefs))
	for _, def := range s.workflowDefs {
		defs = append(defs, def)
	}
	return defs, nil
}

func (s *InMemory) GetTaskDef(_ context.Context, name string) (*task.Def, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.taskDefs[name]
	if !ok {
		return nil, core.ErrNotFound("task definition %q not found", name)
	}
	return def, nil
}

// -----------------------------------------------------------------------------
// Execution
// -----------------------------------------------------------------------------

func (s *InMemory) AddWorkflow(w *workflow.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[w.WorkflowID] = w
	for _, t := range w.Tasks {
		s.tasks[t.TaskID] = t
	}
}

func (s *InMemory) GetTask(_ context.Context, taskID core.ID) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, core.ErrNotFound("task %q not found", taskID)
	}
	return t, nil
}

func (s *InMemory) UpdateTask(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.TaskID] = t
	return nil
}

func (s *InMemory) GetPendingTasksForType(_ context.Context, taskType string) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []*task.Task
	for _, t := range s.tasks {
		if t.TaskType.String() == taskType && !t.Status.IsTerminal() {
			pending = append(pending, t)
		}
	}
	return pending, nil
}

func (s *InMemory) InProgressCount(_ context.Context, taskDefName string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, t := range s.tasks {
		if t.TaskDefName == taskDefName && t.Status == task.StatusInProgress {
			count++
		}
	}
	return count, nil
}

func (s *InMemory) GetWorkflow(_ context.Context, workflowID core.ID, includeTasks bool) (*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[workflowID]
	if !ok {
		return nil, core.ErrNotFound("workflow %q not found", workflowID)
	}
	if !includeTasks {
		shallow := *w
		shallow.Tasks = nil
		return &shallow, nil
	}
	return w, nil
}

func (s *InMemory) GetWorkflowsByCorrelationID(_ context.Context, correlationID string, includeTasks bool) ([]*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*workflow.Workflow
	for _, w := range s.workflows {
		if w.CorrelationID != correlationID {
			continue
		}
		if includeTasks {
			matched = append(matched, w)
			continue
		}
		shallow := *w
		shallow.Tasks = nil
		matched = append(matched, &shallow)
	}
	return matched, nil
}

func (s *InMemory) GetRunningWorkflows(_ context.Context, workflowName string) ([]*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var running []*workflow.Workflow
	for _, w := range s.workflows {
		if w.WorkflowType == workflowName && w.Status == workflow.StatusRunning {
			running = append(running, w)
		}
	}
	return running, nil
}

func (s *InMemory) GetRunningWorkflowIDs(ctx context.Context, workflowName string) ([]core.ID, error) {
	running, err := s.GetRunningWorkflows(ctx, workflowName)
	if err != nil {
		return nil, err
	}
	ids := make([]core.ID, 0, len(running))
	for _, w := range running {
		ids = append(ids, w.WorkflowID)
	}
	return ids, nil
}

func (s *InMemory) RemoveWorkflow(_ context.Context, workflowID core.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[workflowID]
	if !ok {
		return core.ErrNotFound("workflow %q not found", workflowID)
	}
	for _, t := range w.Tasks {
		delete(s.tasks, t.TaskID)
	}
	delete(s.workflows, workflowID)
	return nil
}

func (s *InMemory) UpdateLastPoll(_ context.Context, taskType, domain, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := taskType + "/" + domain + "/" + workerID
	s.pollData[key] = &task.PollData{
		QueueName:    taskType,
		Domain:       domain,
		WorkerID:     workerID,
		LastPollTime: task.NowMillis(),
	}
	return nil
}

func (s *InMemory) GetPollData(_ context.Context, taskType string) ([]*task.PollData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var data []*task.PollData
	for _, pd := range s.pollData {
		if pd.QueueName == taskType {
			data = append(data, pd)
		}
	}
	return data, nil
}

func (s *InMemory) AddTaskExecLogs(_ context.Context, logs []task.ExecLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, execLog := range logs {
		s.execLogs[execLog.TaskID] = append(s.execLogs[execLog.TaskID], execLog)
	}
	return nil
}

// GetTaskExecLogs serves logs directly from memory; the embedded store plays
// the index role for logs as well.
func (s *InMemory) GetTaskExecLogs(_ context.Context, taskID core.ID) ([]task.ExecLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.execLogs[taskID], nil
}

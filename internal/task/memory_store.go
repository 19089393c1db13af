package task

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	xerrors "MultiAI-Relay/internal/errors"
	"MultiAI-Relay/internal/relay"
)

// MemoryStore 以内存方式保存任务状态。
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if task.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	if _, ok := m.tasks[task.ID]; ok {
		return ErrTaskConflict
	}
	now := time.Now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

// Get 返回任务。
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

// Claim 将任务状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	switch task.Status {
	case StatusSucceeded:
		return cloneTask(task), ErrTaskCompleted
	case StatusRunning:
		return cloneTask(task), ErrTaskConflict
	}
	if task.Attempts >= task.MaxRetries {
		return cloneTask(task), ErrTaskExhausted
	}
	task.Status = StatusRunning
	task.Attempts++
	task.LastError = ""
	task.ErrorCode = ""
	task.UpdatedAt = time.Now().Unix()
	return cloneTask(task), nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result relay.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = StatusSucceeded
	task.Result = cloneResult(&result)
	task.LastError = ""
	task.ErrorCode = ""
	task.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记任务失败。非终态失败会把任务放回 pending，等待重新投递。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = StatusFailed
	if !terminal {
		task.Status = StatusPending
	}
	task.LastError = lastError
	task.ErrorCode = string(code)
	task.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的任务，默认最近更新的在前。
func (m *MemoryStore) List(_ context.Context, filter Filter) ([]*Task, error) {
	filter = filter.normalized()

	m.mu.RLock()
	matched := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if filter.matches(task) {
			matched = append(matched, cloneTask(task))
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, filter.compare)
	if filter.Offset >= len(matched) {
		return []*Task{}, nil
	}
	matched = matched[filter.Offset:]
	return matched[:min(len(matched), filter.Limit)], nil
}

// Stats 汇总符合过滤条件的任务，忽略分页参数。
func (m *MemoryStore) Stats(_ context.Context, filter Filter) (Summary, error) {
	filter = filter.normalized()

	m.mu.RLock()
	defer m.mu.RUnlock()
	var summary Summary
	for _, task := range m.tasks {
		if filter.matches(task) {
			summary.add(task)
		}
	}
	return summary, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func cloneTask(task *Task) *Task {
	clone := *task
	clone.Result = cloneResult(task.Result)
	return &clone
}

func cloneResult(result *relay.Result) *relay.Result {
	if result == nil {
		return nil
	}
	clone := *result
	clone.Responses = maps.Clone(result.Responses)
	clone.Steps = slices.Clone(result.Steps)
	return &clone
}

var _ Store = (*MemoryStore)(nil)

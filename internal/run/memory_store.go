package run

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "AgentFi-Mesh/internal/errors"
	"AgentFi-Mesh/internal/workflow"
)

// MemoryStore 在内存中维护运行记录，用于本地模式与测试。
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryStore 创建内存存储实例。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

// Create 插入新的运行记录。
func (s *MemoryStore) Create(_ context.Context, r *Run) error {
	if r == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "run 不能为空")
	}
	if strings.TrimSpace(r.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "运行 ID 不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[r.ID]; exists {
		return ErrRunConflict
	}

	now := time.Now().Unix()
	stored := cloneRun(r)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.runs[r.ID] = stored

	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// Get 查询指定运行。
func (s *MemoryStore) Get(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(stored), nil
}

// Claim 将运行标记为运行中并返回最新状态。
// 只有 pending 或可重试的 failed 运行可以被领取。
func (s *MemoryStore) Claim(_ context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}

	switch stored.Status {
	case StatusCompleted, StatusPartial:
		return cloneRun(stored), ErrRunCompleted
	case StatusRunning:
		return cloneRun(stored), ErrRunConflict
	}
	if stored.Attempts >= stored.MaxRetries {
		return cloneRun(stored), ErrRunExhausted
	}

	stored.Status = StatusRunning
	stored.Attempts++
	stored.LastError = ""
	stored.ErrorCode = ""
	stored.UpdatedAt = time.Now().Unix()
	return cloneRun(stored), nil
}

// MarkDone 记录执行结果，终态由结果本身决定。
func (s *MemoryStore) MarkDone(_ context.Context, id string, result *workflow.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	stored.Status = StatusFromResult(result)
	stored.Result = result
	stored.LastError = ""
	stored.ErrorCode = ""
	stored.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 将运行标记为失败，并记录错误码。
// terminal 为真时耗尽重试预算，之后 Claim 返回 ErrRunExhausted。
func (s *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	stored.Status = StatusFailed
	stored.LastError = lastError
	stored.ErrorCode = string(code)
	if terminal && stored.Attempts < stored.MaxRetries {
		stored.Attempts = stored.MaxRetries
	}
	stored.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回最近更新的运行，按更新时间倒序。
func (s *MemoryStore) List(_ context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*Run, 0, len(s.runs))
	for _, stored := range s.runs {
		runs = append(runs, cloneRun(stored))
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].UpdatedAt == runs[j].UpdatedAt {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].UpdatedAt > runs[j].UpdatedAt
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Close 实现 Store 接口，对内存实现是空操作。
func (s *MemoryStore) Close() error {
	return nil
}

func cloneRun(r *Run) *Run {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Params = cloneParams(r.Params)
	return &cloned
}

var _ Store = (*MemoryStore)(nil)

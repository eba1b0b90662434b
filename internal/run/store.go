package run

import (
	"context"

	xerrors "AgentFi-Mesh/internal/errors"
	"AgentFi-Mesh/internal/workflow"
)

// Store 抽象了运行状态的持久化接口。
type Store interface {
	Create(ctx context.Context, r *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	Claim(ctx context.Context, id string) (*Run, error)
	MarkDone(ctx context.Context, id string, result *workflow.RunResult) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, limit int) ([]*Run, error)
	Close() error
}

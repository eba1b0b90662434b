// Package run 管理工作流运行的生命周期：入队、领取、执行、落盘。
package run

import (
	xerrors "AgentFi-Mesh/internal/errors"
	"AgentFi-Mesh/internal/workflow"
)

// Status 表示运行在生命周期中的状态。
// 终态与 workflow.RunStatus 对齐，入队后执行前为 pending/running。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial_failure"
	StatusFailed    Status = "failed"
)

// Run 描述一次排队执行的工作流运行。
type Run struct {
	ID         string              `json:"id"`
	TemplateID string              `json:"template_id"`
	Task       string              `json:"task"`
	Params     map[string]any      `json:"params,omitempty"`
	Status     Status              `json:"status"`
	Attempts   int                 `json:"attempts"`
	MaxRetries int                 `json:"max_retries"`
	LastError  string              `json:"last_error,omitempty"`
	ErrorCode  string              `json:"error_code,omitempty"`
	Result     *workflow.RunResult `json:"result,omitempty"`
	CreatedAt  int64               `json:"created_at"`
	UpdatedAt  int64               `json:"updated_at"`
}

var (
	// ErrRunNotFound 表示指定的运行不存在。
	ErrRunNotFound = xerrors.New(CodeRunNotFound, "run not found")
	// ErrRunConflict 表示运行在当前状态下无法进行所请求的操作。
	ErrRunConflict = xerrors.New(CodeRunConflict, "run conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrRunCompleted 表示运行已经到达终态。
	ErrRunCompleted = xerrors.New(CodeRunCompleted, "run already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrRunExhausted 表示运行的重试次数已经耗尽。
	ErrRunExhausted = xerrors.New(CodeRunExhausted, "run retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeRunNotFound   xerrors.Code = "RUN_NOT_FOUND"
	CodeRunConflict   xerrors.Code = "RUN_CONFLICT"
	CodeRunCompleted  xerrors.Code = "RUN_COMPLETED"
	CodeRunExhausted  xerrors.Code = "RUN_RETRIES_EXHAUSTED"
	CodeRunValidation xerrors.Code = "RUN_VALIDATION_FAILED"
	CodeRunPublish    xerrors.Code = "RUN_PUBLISH_FAILED"
	CodeRunProcessing xerrors.Code = "RUN_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeRunNotFound, xerrors.Attributes{
		Message:  "run not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunConflict, xerrors.Attributes{
		Message:  "run conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeRunCompleted, xerrors.Attributes{
		Message:  "run already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunExhausted, xerrors.Attributes{
		Message:  "run retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeRunValidation, xerrors.Attributes{
		Message:  "run validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunPublish, xerrors.Attributes{
		Message:   "failed to publish run",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeRunProcessing, xerrors.Attributes{
		Message:   "run execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// StatusFromResult 把工作流终态映射为运行状态。
func StatusFromResult(result *workflow.RunResult) Status {
	if result == nil {
		return StatusFailed
	}
	switch result.Status {
	case workflow.RunCompleted:
		return StatusCompleted
	case workflow.RunPartial:
		return StatusPartial
	default:
		return StatusFailed
	}
}

// IsTerminal 报告状态是否为终态。
func IsTerminal(status Status) bool {
	switch status {
	case StatusCompleted, StatusPartial, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	cloned := make(map[string]any, len(params))
	for key, value := range params {
		cloned[key] = value
	}
	return cloned
}

package workflow

import "time"

// AgentResult 是单个步骤执行器返回的统一结果。
// Output 面向人读，Data 面向下游步骤的输入装配。
type AgentResult struct {
	Success      bool           `json:"success"`
	Output       string         `json:"output"`
	Data         map[string]any `json:"data,omitempty"`
	TokensUsed   int            `json:"tokens_used,omitempty"`
	ToolsUsed    []string       `json:"tools_used,omitempty"`
	SubAgents    []string       `json:"sub_agents,omitempty"`
	Verification *Verification  `json:"verification,omitempty"`
}

// Verification 是可选的执行校验凭据。
type Verification struct {
	JobID     string `json:"job_id"`
	Verified  bool   `json:"verified"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// StepState 是步骤的生命周期状态。
type StepState string

const (
	StepPending   StepState = "pending"
	StepRunning   StepState = "running"
	StepCompleted StepState = "completed"
	StepFailed    StepState = "failed"
	StepSkipped   StepState = "skipped"
)

// RunStatus 是整次运行的终态。
type RunStatus string

const (
	// RunCompleted 所有步骤全部完成。
	RunCompleted RunStatus = "completed"
	// RunPartial 部分步骤完成，其余失败或被跳过。
	RunPartial RunStatus = "partial_failure"
	// RunFailed 没有任何步骤完成。
	RunFailed RunStatus = "failed"
)

// StepResult 记录单个步骤的终态与执行结果。
type StepResult struct {
	StepID     string       `json:"step_id"`
	Name       string       `json:"name"`
	Capability string       `json:"capability"`
	State      StepState    `json:"state"`
	Reason     string       `json:"reason,omitempty"`
	Result     *AgentResult `json:"result,omitempty"`
	StartedAt  time.Time    `json:"started_at,omitempty"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
}

// RunResult 是一次运行的完整结果，步骤顺序与模板声明顺序一致。
type RunResult struct {
	RunID        string                    `json:"run_id"`
	TemplateID   string                    `json:"template_id"`
	Task         string                    `json:"task"`
	Status       RunStatus                 `json:"status"`
	Steps        []StepResult              `json:"steps"`
	FailedSteps  []string                  `json:"failed_steps,omitempty"`
	SkippedSteps []string                  `json:"skipped_steps,omitempty"`
	Outputs      map[string]map[string]any `json:"outputs,omitempty"`
	StartedAt    time.Time                 `json:"started_at"`
	Duration     time.Duration             `json:"duration"`
}

// Succeeded 报告运行是否全部完成。
func (r *RunResult) Succeeded() bool {
	return r != nil && r.Status == RunCompleted
}

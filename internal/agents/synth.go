package agents

import (
	"context"
	"fmt"

	"AgentFi-Mesh/internal/workflow"
)

// SynthHandler 合成确定性的分析结果，不依赖外部服务。
// 作为行情、风控、路由等分析类能力的缺省实现，
// 让整条工作流在没有真实 agent 接入时依旧可以演练。
type SynthHandler struct{}

// NewSynthHandler 构造 SynthHandler。
func NewSynthHandler() *SynthHandler {
	return &SynthHandler{}
}

// Handle 实现 Handler。
func (h *SynthHandler) Handle(_ context.Context, step workflow.StepDef, input map[string]any) (*workflow.AgentResult, error) {
	data := map[string]any{
		"step":       step.ID,
		"capability": step.Capability,
		"action":     step.Action,
	}
	if task, ok := input["task"].(string); ok {
		data["task"] = task
	}
	return &workflow.AgentResult{
		Success:   true,
		Output:    fmt.Sprintf("%s 完成 %s", step.Capability, step.Action),
		Data:      data,
		ToolsUsed: []string{"synthesizer"},
	}, nil
}

var _ Handler = (*SynthHandler)(nil)

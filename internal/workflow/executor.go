package workflow

import (
	"context"
	"fmt"
	"time"

	"AgentFi-Mesh/internal/broadcast"
)

// StepExecutor 执行单个步骤。input 由引擎装配：
// 固定包含 "task"（用户任务）与 "params"（运行入参），
// 外加每个祖先步骤的输出，键为祖先的输出名。
//
// 约定：执行器返回 (result, nil) 且 result.Success=false 表示
// 业务失败；返回 err != nil 表示基础设施失败。两者都会把
// 步骤置为 failed，区别只在诊断信息。
type StepExecutor interface {
	ExecuteStep(ctx context.Context, step StepDef, run *Context, input map[string]any) (*AgentResult, error)
}

// SimulatedExecutor 是默认执行器：不触网、不上链，
// 按步骤定义合成确定性的输出。用于本地联调与模板演练，
// 对外发出的状态事件与真实执行器完全一致。
type SimulatedExecutor struct {
	sink  broadcast.Sink
	delay time.Duration
}

// SimulatedOption 配置 SimulatedExecutor。
type SimulatedOption func(*SimulatedExecutor)

// WithSimulatedDelay 为每个步骤注入固定耗时，便于演示并发调度。
func WithSimulatedDelay(d time.Duration) SimulatedOption {
	return func(e *SimulatedExecutor) {
		if d > 0 {
			e.delay = d
		}
	}
}

// WithSimulatedSink 指定状态事件出口。
func WithSimulatedSink(sink broadcast.Sink) SimulatedOption {
	return func(e *SimulatedExecutor) {
		e.sink = sink
	}
}

// NewSimulatedExecutor 构造模拟执行器。
func NewSimulatedExecutor(opts ...SimulatedOption) *SimulatedExecutor {
	e := &SimulatedExecutor{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.sink == nil {
		e.sink = broadcast.NewLogSink(nil)
	}
	return e
}

// ExecuteStep 实现 StepExecutor。
func (e *SimulatedExecutor) ExecuteStep(ctx context.Context, step StepDef, run *Context, input map[string]any) (*AgentResult, error) {
	_ = e.sink.Notify(ctx, broadcast.AgentStatus(step.ID, broadcast.StatusWorking))

	if e.delay > 0 {
		timer := time.NewTimer(e.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	upstream := make([]string, 0, len(step.DependsOn))
	upstream = append(upstream, step.DependsOn...)

	result := &AgentResult{
		Success: true,
		Output:  fmt.Sprintf("[simulated] %s 执行 %s 完成", step.Capability, step.Action),
		Data: map[string]any{
			"step":       step.ID,
			"capability": step.Capability,
			"action":     step.Action,
			"simulated":  true,
			"inputs":     upstream,
		},
		ToolsUsed: []string{"simulator"},
	}

	_ = e.sink.Notify(ctx, broadcast.AgentStatus(step.ID, broadcast.StatusComplete))
	return result, nil
}

var _ StepExecutor = (*SimulatedExecutor)(nil)

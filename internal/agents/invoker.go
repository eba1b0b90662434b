// Package agents 把工作流步骤映射到具体的 agent 能力处理器。
// Invoker 实现 workflow.StepExecutor：按步骤的 capability 分发，
// 并对每个步骤恰好发出一次 working 与一次 complete 状态事件。
package agents

import (
	"context"
	"log/slog"
	"sync"

	"AgentFi-Mesh/internal/broadcast"
	"AgentFi-Mesh/internal/workflow"
	"AgentFi-Mesh/pkg/logger"
)

// Handler 处理一类能力的步骤执行。
type Handler interface {
	Handle(ctx context.Context, step workflow.StepDef, input map[string]any) (*workflow.AgentResult, error)
}

// HandlerFunc 把函数适配为 Handler。
type HandlerFunc func(ctx context.Context, step workflow.StepDef, input map[string]any) (*workflow.AgentResult, error)

// Handle 实现 Handler。
func (f HandlerFunc) Handle(ctx context.Context, step workflow.StepDef, input map[string]any) (*workflow.AgentResult, error) {
	return f(ctx, step, input)
}

// Invoker 按能力名把步骤路由给注册的 Handler。
// 未注册的能力走 fallback；fallback 缺省为合成应答器，
// 保证模板中声明的任何能力都能跑通端到端链路。
type Invoker struct {
	sink   broadcast.Sink
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

// InvokerOption 配置 Invoker。
type InvokerOption func(*Invoker)

// WithSink 指定状态事件出口。
func WithSink(sink broadcast.Sink) InvokerOption {
	return func(i *Invoker) {
		if sink != nil {
			i.sink = sink
		}
	}
}

// WithFallback 指定未注册能力的兜底处理器。
func WithFallback(h Handler) InvokerOption {
	return func(i *Invoker) {
		if h != nil {
			i.fallback = h
		}
	}
}

// WithInvokerLogger 指定日志输出。
func WithInvokerLogger(l *slog.Logger) InvokerOption {
	return func(i *Invoker) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewInvoker 构造 Invoker。
func NewInvoker(opts ...InvokerOption) *Invoker {
	i := &Invoker{
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	if i.sink == nil {
		i.sink = broadcast.NewLogSink(nil)
	}
	if i.logger == nil {
		i.logger = logger.Named("agents")
	}
	if i.fallback == nil {
		i.fallback = NewSynthHandler()
	}
	return i
}

// Register 注册能力处理器，重复注册覆盖旧值。
func (i *Invoker) Register(capability string, h Handler) {
	if capability == "" || h == nil {
		return
	}
	i.mu.Lock()
	i.handlers[capability] = h
	i.mu.Unlock()
}

// ExecuteStep 实现 workflow.StepExecutor。
// complete 事件在任何出口都会发出：终态事件表示"不再 working"，
// 成功与否由 RunResult 表达。
func (i *Invoker) ExecuteStep(ctx context.Context, step workflow.StepDef, _ *workflow.Context, input map[string]any) (*workflow.AgentResult, error) {
	_ = i.sink.Notify(ctx, broadcast.AgentStatus(step.ID, broadcast.StatusWorking))
	defer func() {
		_ = i.sink.Notify(ctx, broadcast.AgentStatus(step.ID, broadcast.StatusComplete))
	}()

	i.mu.RLock()
	handler, ok := i.handlers[step.Capability]
	if !ok {
		handler = i.fallback
	}
	i.mu.RUnlock()

	result, err := handler.Handle(ctx, step, input)
	if err != nil {
		i.logger.Warn("能力处理器执行失败",
			slog.Any("error", err),
			slog.String("step", step.ID),
			slog.String("capability", step.Capability))
	}
	return result, err
}

var _ workflow.StepExecutor = (*Invoker)(nil)

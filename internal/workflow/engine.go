package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "AgentFi-Mesh/internal/errors"
	"AgentFi-Mesh/internal/observability/metrics"
	"AgentFi-Mesh/pkg/logger"
)

// Engine 按模板调度多 agent 工作流。
//
// 调度模型：每一轮取出全部就绪步骤（依赖已全部完成的 pending
// 步骤），按模板声明顺序并发派发，等待本轮全部返回后再进入
// 下一轮。步骤失败不会中断运行，只会把依赖它的后代级联置为
// skipped，其余分支继续执行。
type Engine struct {
	mu        sync.RWMutex
	templates map[string]Template
	order     []string

	executor  StepExecutor
	runBudget time.Duration
	logger    *slog.Logger
}

// EngineOption 配置 Engine。
type EngineOption func(*Engine)

// WithExecutor 指定步骤执行器。
func WithExecutor(ex StepExecutor) EngineOption {
	return func(e *Engine) {
		if ex != nil {
			e.executor = ex
		}
	}
}

// WithRunBudget 设置单次运行的时间预算。预算耗尽后剩余
// 步骤置为 skipped，已完成的结果照常返回。
func WithRunBudget(budget time.Duration) EngineOption {
	return func(e *Engine) {
		if budget > 0 {
			e.runBudget = budget
		}
	}
}

// WithEngineLogger 指定日志输出。
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine 构造引擎，默认使用模拟执行器。
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		templates: make(map[string]Template),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.executor == nil {
		e.executor = NewSimulatedExecutor()
	}
	if e.logger == nil {
		e.logger = logger.Named("workflow")
	}
	return e
}

// RegisterTemplate 校验并注册模板。重复注册同名模板会覆盖旧值。
func (e *Engine) RegisterTemplate(t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.templates[t.ID]; !exists {
		e.order = append(e.order, t.ID)
	}
	e.templates[t.ID] = t
	return nil
}

// SetStepExecutor 替换步骤执行器，用于从模拟切到真实 agent。
func (e *Engine) SetStepExecutor(ex StepExecutor) {
	if ex == nil {
		return
	}
	e.mu.Lock()
	e.executor = ex
	e.mu.Unlock()
}

// Templates 按注册顺序返回模板摘要。
func (e *Engine) Templates() []Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Summary, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.templates[id].Summarize())
	}
	return out
}

// Template 返回指定模板的副本。
func (e *Engine) Template(id string) (Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[id]
	return t, ok
}

// runtimeStep 是运行期的步骤状态。仅由调度循环读写，
// 并发步骤的结果经 channel 汇聚后串行落盘。
type runtimeStep struct {
	def        StepDef
	state      StepState
	reason     string
	result     *AgentResult
	startedAt  time.Time
	finishedAt time.Time
}

type stepOutcome struct {
	id     string
	result *AgentResult
	err    error
}

// Execute 执行指定模板。未注册的模板 ID 直接返回错误；
// 步骤级失败永远不会转化为 error，而是体现在 RunResult 中。
func (e *Engine) Execute(ctx context.Context, templateID, task string, params map[string]any) (*RunResult, error) {
	tpl, ok := e.Template(templateID)
	if !ok {
		return nil, xerrors.Newf(CodeTemplateUnknown, "模板 %s 未注册", templateID)
	}

	e.mu.RLock()
	executor := e.executor
	budget := e.runBudget
	e.mu.RUnlock()

	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	run := NewContext(task, params)
	started := time.Now()

	e.logger.Info("工作流开始",
		slog.String("run_id", run.RunID),
		slog.String("template", templateID),
		slog.Int("steps", len(tpl.Steps)))

	index := make(map[string]StepDef, len(tpl.Steps))
	steps := make(map[string]*runtimeStep, len(tpl.Steps))
	for _, def := range tpl.Steps {
		index[def.ID] = def
		steps[def.ID] = &runtimeStep{def: def, state: StepPending}
	}

	for {
		if ctx.Err() != nil {
			e.skipRemaining(steps, tpl, "run budget exceeded")
			break
		}

		ready := e.readySteps(tpl, steps)
		if len(ready) == 0 {
			if e.cascadeSkips(tpl, steps) {
				continue
			}
			if pendingCount(steps) > 0 {
				// 注册校验保证无环，走到这里说明模板被并发篡改。
				return nil, xerrors.Newf(CodeUnsatisfiable,
					"模板 %s 存在无法满足的依赖，剩余 %d 个步骤无法调度", templateID, pendingCount(steps))
			}
			break
		}

		outcomes := make(chan stepOutcome, len(ready))
		var wg sync.WaitGroup
		for _, def := range ready {
			rt := steps[def.ID]
			rt.state = StepRunning
			rt.startedAt = time.Now()

			wg.Add(1)
			go func(def StepDef) {
				defer wg.Done()
				input := e.assembleInput(run, index, def)
				result, err := executor.ExecuteStep(ctx, def, run, input)
				outcomes <- stepOutcome{id: def.ID, result: result, err: err}
			}(def)
		}
		wg.Wait()
		close(outcomes)

		// 结果串行落盘，保证输出可见性与状态变更的顺序一致。
		for outcome := range outcomes {
			rt := steps[outcome.id]
			rt.finishedAt = time.Now()
			rt.result = outcome.result

			switch {
			case outcome.err != nil:
				rt.state = StepFailed
				rt.reason = outcome.err.Error()
				e.logger.Warn("步骤执行失败",
					slog.Any("error", outcome.err),
					slog.String("run_id", run.RunID),
					slog.String("step", outcome.id))
			case outcome.result == nil || !outcome.result.Success:
				rt.state = StepFailed
				rt.reason = failureReason(outcome.result)
				e.logger.Warn("步骤返回失败结果",
					slog.String("run_id", run.RunID),
					slog.String("step", outcome.id),
					slog.String("reason", rt.reason))
			default:
				rt.state = StepCompleted
				run.StoreOutput(rt.def.OutputKey(), outcome.result.Data)
			}
			metrics.ObserveStep(string(rt.state))
		}
	}

	result := e.buildResult(run, tpl, steps, started)
	metrics.ObserveRun(string(result.Status))
	e.logger.Info("工作流结束",
		slog.String("run_id", run.RunID),
		slog.String("template", templateID),
		slog.String("status", string(result.Status)),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// readySteps 按声明顺序返回依赖已全部完成的 pending 步骤。
func (e *Engine) readySteps(tpl Template, steps map[string]*runtimeStep) []StepDef {
	var ready []StepDef
	for _, def := range tpl.Steps {
		rt := steps[def.ID]
		if rt.state != StepPending {
			continue
		}
		ok := true
		for _, dep := range def.DependsOn {
			if steps[dep].state != StepCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, def)
		}
	}
	return ready
}

// cascadeSkips 把依赖失败或被跳过的 pending 步骤置为 skipped，
// 返回是否有状态变更。
func (e *Engine) cascadeSkips(tpl Template, steps map[string]*runtimeStep) bool {
	changed := false
	for _, def := range tpl.Steps {
		rt := steps[def.ID]
		if rt.state != StepPending {
			continue
		}
		for _, dep := range def.DependsOn {
			depState := steps[dep].state
			if depState == StepFailed || depState == StepSkipped {
				rt.state = StepSkipped
				rt.reason = "依赖步骤 " + dep + " 未完成"
				metrics.ObserveStep(string(StepSkipped))
				changed = true
				break
			}
		}
	}
	return changed
}

// skipRemaining 在预算耗尽时跳过所有尚未终结的步骤。
func (e *Engine) skipRemaining(steps map[string]*runtimeStep, tpl Template, reason string) {
	for _, def := range tpl.Steps {
		rt := steps[def.ID]
		if rt.state == StepPending || rt.state == StepRunning {
			rt.state = StepSkipped
			rt.reason = reason
			metrics.ObserveStep(string(StepSkipped))
		}
	}
}

// assembleInput 为步骤装配输入：task、params，
// 加上每个祖先步骤（含间接祖先）已落盘的输出。
func (e *Engine) assembleInput(run *Context, index map[string]StepDef, def StepDef) map[string]any {
	input := map[string]any{
		"task":   run.Task,
		"params": run.Params,
	}
	for _, ancestor := range transitiveDeps(index, def.ID) {
		key := index[ancestor].OutputKey()
		if out, ok := run.Output(key); ok {
			input[key] = out
		}
	}
	return input
}

func (e *Engine) buildResult(run *Context, tpl Template, steps map[string]*runtimeStep, started time.Time) *RunResult {
	result := &RunResult{
		RunID:      run.RunID,
		TemplateID: tpl.ID,
		Task:       run.Task,
		Steps:      make([]StepResult, 0, len(tpl.Steps)),
		Outputs:    run.Outputs(),
		StartedAt:  started,
		Duration:   time.Since(started),
	}

	completed := 0
	for _, def := range tpl.Steps {
		rt := steps[def.ID]
		result.Steps = append(result.Steps, StepResult{
			StepID:     def.ID,
			Name:       def.Name,
			Capability: def.Capability,
			State:      rt.state,
			Reason:     rt.reason,
			Result:     rt.result,
			StartedAt:  rt.startedAt,
			FinishedAt: rt.finishedAt,
		})
		switch rt.state {
		case StepCompleted:
			completed++
		case StepFailed:
			result.FailedSteps = append(result.FailedSteps, def.ID)
		case StepSkipped:
			result.SkippedSteps = append(result.SkippedSteps, def.ID)
		}
	}

	switch {
	case completed == len(tpl.Steps):
		result.Status = RunCompleted
	case completed > 0:
		result.Status = RunPartial
	default:
		result.Status = RunFailed
	}
	return result
}

func pendingCount(steps map[string]*runtimeStep) int {
	n := 0
	for _, rt := range steps {
		if rt.state == StepPending {
			n++
		}
	}
	return n
}

func failureReason(result *AgentResult) string {
	if result == nil {
		return "执行器返回空结果"
	}
	if result.Output != "" {
		return result.Output
	}
	return "步骤执行失败"
}

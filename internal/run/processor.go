package run

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "AgentFi-Mesh/internal/errors"
	"AgentFi-Mesh/internal/observability/alerting"
	"AgentFi-Mesh/internal/observability/metrics"
	"AgentFi-Mesh/internal/workflow"
	"AgentFi-Mesh/pkg/logger"
)

// Executor 定义处理器所需的工作流引擎能力。
type Executor interface {
	Execute(ctx context.Context, templateID, task string, params map[string]any) (*workflow.RunResult, error)
}

// Processor 从队列消费运行请求并驱动工作流引擎执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = l
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("processor")
	}
	return p
}

// Start 启动消费循环，阻塞直到 ctx 取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置运行消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, runID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	r, err := p.store.Claim(ctx, runID)
	if err != nil {
		if stdErrors.Is(err, ErrRunNotFound) || stdErrors.Is(err, ErrRunCompleted) || stdErrors.Is(err, ErrRunExhausted) {
			p.logger.Debug("跳过运行", slog.String("run_id", runID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取运行失败", slog.Any("error", err), slog.String("run_id", runID))
		return err
	}

	result, execErr := p.executor.Execute(ctx, r.TemplateID, r.Task, cloneParams(r.Params))
	if execErr != nil {
		return p.handleExecutionFailure(ctx, r, execErr)
	}

	if err := p.store.MarkDone(ctx, r.ID, result); err != nil {
		logger.L().Error("记录运行结果失败", slog.Any("error", err), slog.String("run_id", r.ID))
		if storeErr := p.store.MarkFailed(ctx, r.ID, CodeRunProcessing, err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("run_id", r.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, r.ID); pubErr != nil {
			return xerrors.Wrap(CodeRunPublish, pubErr, "运行在落盘失败后重投失败")
		}
		return nil
	}

	logger.Audit().Info("运行执行完毕",
		slog.String("run_id", r.ID),
		slog.String("template", r.TemplateID),
		slog.String("status", string(result.Status)),
		slog.Any("failed_steps", result.FailedSteps),
		slog.Any("skipped_steps", result.SkippedSteps),
	)
	if result.Status != workflow.RunCompleted {
		p.emitAlert(ctx, r, CodeRunProcessing, nil, string(result.Status))
	}
	return nil
}

// handleExecutionFailure 处理引擎级失败：未注册模板之类的配置错误
// 不可重试，基础设施错误按 attempts 计数重投。
func (p *Processor) handleExecutionFailure(ctx context.Context, r *Run, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeRunProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := r.Attempts >= r.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, r.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记运行失败状态出错", slog.Any("error", storeErr), slog.String("run_id", r.ID))
		return storeErr
	}
	metrics.ObserveRun(string(StatusFailed))
	logger.Audit().Warn("运行执行失败",
		slog.String("run_id", r.ID),
		slog.String("template", r.TemplateID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", r.Attempts),
		slog.Int("max_retries", r.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	}
	p.emitAlert(ctx, r, code, execErr, stage)

	if retryable && !terminal {
		if pubErr := p.producer.Publish(ctx, r.ID); pubErr != nil {
			return xerrors.Wrap(CodeRunPublish, pubErr, "运行重投失败")
		}
		p.logger.Debug("运行已重新排队", slog.String("run_id", r.ID), slog.Int("attempts", r.Attempts))
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, r *Run, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || r == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		RunID:      r.ID,
		Attempts:   r.Attempts,
		MaxRetries: r.MaxRetries,
		Metadata:   map[string]string{"stage": stage, "template": r.TemplateID},
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("run_id", r.ID),
			slog.String("stage", stage),
		)
	}
}

package run

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AgentFi-Mesh/internal/errors"
	"AgentFi-Mesh/pkg/logger"
)

// TemplateChecker 在提交阶段校验模板是否已注册，
// 让坏请求在入队前被拒绝而不是在 worker 里失败。
type TemplateChecker func(id string) bool

// Request 是提交一次运行的请求。
type Request struct {
	ID         string         `json:"id,omitempty"`
	TemplateID string         `json:"template_id"`
	Task       string         `json:"task"`
	Params     map[string]any `json:"params,omitempty"`
}

// Service 负责运行的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	templates  TemplateChecker
	maxRetries int
}

// NewService 构造运行服务。
func NewService(store Store, producer Producer, templates TemplateChecker, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, templates: templates, maxRetries: maxRetries}
}

// Submit 创建一个新的运行并推送到队列。携带 ID 的重复提交幂等。
func (s *Service) Submit(ctx context.Context, req Request) (*Run, error) {
	if strings.TrimSpace(req.TemplateID) == "" {
		return nil, xerrors.New(CodeRunValidation, "模板 ID 不能为空")
	}
	if strings.TrimSpace(req.Task) == "" {
		return nil, xerrors.New(CodeRunValidation, "任务描述不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行服务未初始化")
	}
	if s.templates != nil && !s.templates(req.TemplateID) {
		return nil, xerrors.Newf(CodeRunValidation, "模板 %s 未注册", req.TemplateID)
	}

	runID := strings.TrimSpace(req.ID)
	if runID != "" {
		existing, err := s.store.Get(ctx, runID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrRunNotFound) {
			return nil, err
		}
	} else {
		runID = uuid.NewString()
	}

	r := &Run{
		ID:         runID,
		TemplateID: req.TemplateID,
		Task:       req.Task,
		Params:     cloneParams(req.Params),
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, r); err != nil {
		if stdErrors.Is(err, ErrRunConflict) {
			existing, getErr := s.store.Get(ctx, runID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrRunNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, runID); err != nil {
		logger.L().Error("运行入队失败", slog.Any("error", err), slog.String("run_id", runID))
		wrapped := xerrors.Wrap(CodeRunPublish, err, "发布运行到队列失败")
		_ = s.store.MarkFailed(ctx, runID, CodeRunPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("运行入队成功",
		slog.String("run_id", runID),
		slog.String("template", r.TemplateID),
		slog.String("task", r.Task),
		slog.Int("max_retries", r.MaxRetries),
	)
	return r, nil
}

// Get 返回指定运行的状态。
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回最近的运行。
func (s *Service) List(ctx context.Context, limit int) ([]*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	return s.store.List(ctx, limit)
}

// WaitUntilCompleted 在指定超时时间内轮询运行状态。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Run, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if IsTerminal(r.Status) {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

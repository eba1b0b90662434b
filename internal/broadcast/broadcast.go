// Package broadcast 把 agent 状态变更推送给 UI 层。
// 所有实现都必须吞掉推送失败：状态推送只是回显，
// 永远不能反向影响工作流执行。
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"

	"AgentFi-Mesh/pkg/logger"
)

// EventTypeAgentStatus 是目前唯一的事件类型。
const EventTypeAgentStatus = "agent:status"

// 状态常量。每个步骤恰好产生一次 working 和一次终态事件。
const (
	StatusWorking  = "working"
	StatusComplete = "complete"
)

// Event 是推送给 UI 的状态事件。
type Event struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Status string `json:"status"`
}

// AgentStatus 构造一条 agent:status 事件。
func AgentStatus(id, status string) Event {
	return Event{Type: EventTypeAgentStatus, ID: id, Status: status}
}

// Sink 是状态事件的出口。实现返回的 error 仅供日志使用，
// 调用方不得因推送失败而中断执行。
type Sink interface {
	Notify(ctx context.Context, event Event) error
}

// SinkFunc 把函数适配为 Sink。
type SinkFunc func(ctx context.Context, event Event) error

// Notify 实现 Sink。
func (f SinkFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// LogSink 把事件写入结构化日志，是默认实现。
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink 构造 LogSink。
func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = logger.Named("broadcast")
	}
	return &LogSink{logger: l}
}

// Notify 实现 Sink。
func (s *LogSink) Notify(_ context.Context, event Event) error {
	s.logger.Info("agent 状态变更",
		slog.String("type", event.Type),
		slog.String("id", event.ID),
		slog.String("status", event.Status))
	return nil
}

// FanoutSink 把事件依次推送给多个下游，逐个吞掉失败。
type FanoutSink struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewFanoutSink 构造 FanoutSink。
func NewFanoutSink(sinks ...Sink) *FanoutSink {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &FanoutSink{sinks: kept, logger: logger.Named("broadcast")}
}

// Notify 实现 Sink。任何下游失败都不会阻止其余下游收到事件。
func (s *FanoutSink) Notify(ctx context.Context, event Event) error {
	for _, sink := range s.sinks {
		if err := sink.Notify(ctx, event); err != nil {
			s.logger.Warn("状态事件推送失败",
				slog.Any("error", err),
				slog.String("id", event.ID),
				slog.String("status", event.Status))
		}
	}
	return nil
}

// encode 序列化事件，供网络型 Sink 复用。
func encode(event Event) ([]byte, error) {
	return json.Marshal(event)
}

var (
	_ Sink = SinkFunc(nil)
	_ Sink = (*LogSink)(nil)
	_ Sink = (*FanoutSink)(nil)
)

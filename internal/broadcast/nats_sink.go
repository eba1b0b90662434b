package broadcast

import (
	"context"

	"github.com/nats-io/nats.go"

	xerrors "AgentFi-Mesh/internal/errors"
)

// NATSSink 把状态事件发布到 NATS 主题，适合多实例部署时
// 由独立的推送网关统一落到 WebSocket。
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink 构造 NATSSink。
func NewNATSSink(url, subject string) (*NATSSink, error) {
	if subject == "" {
		subject = "agentfi.status"
	}
	conn, err := nats.Connect(url, nats.Name("agentfi-broadcast"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 NATS 失败")
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

// Notify 实现 Sink。
func (s *NATSSink) Notify(_ context.Context, event Event) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	return s.conn.Publish(s.subject, payload)
}

// Close 排空并关闭连接。
func (s *NATSSink) Close() {
	if s.conn != nil {
		_ = s.conn.Drain()
	}
}

var _ Sink = (*NATSSink)(nil)

package broadcast

import (
	"context"

	"github.com/redis/go-redis/v9"

	xerrors "AgentFi-Mesh/internal/errors"
)

// RedisSink 通过 Redis Pub/Sub 推送状态事件，UI 网关订阅该频道。
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink 构造 RedisSink 并探活。
func NewRedisSink(ctx context.Context, addr, password string, db int, channel string) (*RedisSink, error) {
	if channel == "" {
		channel = "agentfi.status"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 广播通道失败")
	}
	return &RedisSink{client: client, channel: channel}, nil
}

// Notify 实现 Sink。
func (s *RedisSink) Notify(ctx context.Context, event Event) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, payload).Err()
}

// Close 释放连接。
func (s *RedisSink) Close() error {
	return s.client.Close()
}

var _ Sink = (*RedisSink)(nil)

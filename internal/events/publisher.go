package events

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 生命周期事件发布（Redis Streams）
// 事件用于通知 UI 协作方（推送/提示），发布失败只记日志，不影响操作本身

// Type 事件类型
type Type string

const (
	TypeActivated         Type = "activated"          // 首次扫码开封
	TypeAssigned          Type = "assigned"           // 分配/重新分配给患者
	TypeDeactivated       Type = "deactivated"        // 解除分配
	TypeRotationCompleted Type = "rotation_completed" // 完成翻转
	TypeRotationPostponed Type = "rotation_postponed" // 推迟翻转
	TypeDiscarded         Type = "discarded"          // 废弃（手动或过期扫描）
)

// LifecycleEvent 定位垫生命周期事件
type LifecycleEvent struct {
	Type       Type
	DeviceID   string
	Barcode    string
	PatientRef string // 相关患者引用（无则为空）
	At         time.Time
}

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, event LifecycleEvent) error
}

// RedisPublisher 基于 Redis Streams 的事件发布
type RedisPublisher struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewRedisPublisher 创建 Redis 事件发布器
func NewRedisPublisher(client *redis.Client, stream string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		stream: stream,
		logger: logger,
	}
}

// Publish 发布事件到 Redis Streams（XADD）
func (p *RedisPublisher) Publish(ctx context.Context, event LifecycleEvent) error {
	values := map[string]interface{}{
		"type":      string(event.Type),
		"device_id": event.DeviceID,
		"barcode":   event.Barcode,
		"timestamp": fmt.Sprintf("%d", event.At.Unix()),
	}
	if event.PatientRef != "" {
		values["patient_ref"] = event.PatientRef
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish lifecycle event: %w", err)
	}

	p.logger.Debug("Published lifecycle event",
		zap.String("stream", p.stream),
		zap.String("message_id", id),
		zap.String("type", string(event.Type)),
		zap.String("barcode", event.Barcode),
	)
	return nil
}

// NopPublisher 空实现（事件发布关闭时使用）
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event LifecycleEvent) error {
	return nil
}

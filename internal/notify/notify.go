// Package notify 把每次同步的账本条目推送到外部消息通道
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	commonredis "github.com/callmeahab/energy-management-sub000/common/redis"
	"github.com/callmeahab/energy-management-sub000/internal/models"
)

// Notifier 同步结果通知
type Notifier interface {
	Notify(ctx context.Context, entry *models.SyncStatusEntry) error
}

// Multi 依次通知所有通道，错误合并返回
type Multi []Notifier

// Notify 实现 Notifier
func (m Multi) Notify(ctx context.Context, entry *models.SyncStatusEntry) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RedisStreamNotifier 写入 Redis Stream（XADD，近似裁剪）
type RedisStreamNotifier struct {
	client commonredis.StreamAdder
	stream string
	maxLen int64
}

// NewRedisStreamNotifier 创建 Redis Stream 通知
func NewRedisStreamNotifier(client commonredis.StreamAdder, stream string, maxLen int64) *RedisStreamNotifier {
	return &RedisStreamNotifier{client: client, stream: stream, maxLen: maxLen}
}

// Notify 实现 Notifier
func (n *RedisStreamNotifier) Notify(ctx context.Context, entry *models.SyncStatusEntry) error {
	if _, err := commonredis.PublishJSONToStream(ctx, n.client, n.stream, n.maxLen, entry); err != nil {
		return fmt.Errorf("failed to publish sync event to stream %s: %w", n.stream, err)
	}
	return nil
}

// MQTTPublisher common/mqtt.Client 的发布能力
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTNotifier 发布到 MQTT topic
type MQTTNotifier struct {
	publisher MQTTPublisher
	topic     string
	qos       byte
}

// NewMQTTNotifier 创建 MQTT 通知
func NewMQTTNotifier(publisher MQTTPublisher, topic string, qos byte) *MQTTNotifier {
	return &MQTTNotifier{publisher: publisher, topic: topic, qos: qos}
}

// Notify 实现 Notifier
func (n *MQTTNotifier) Notify(_ context.Context, entry *models.SyncStatusEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal sync event: %w", err)
	}
	return n.publisher.Publish(n.topic, n.qos, false, payload)
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	commoncfg "github.com/callmeahab/energy-management-sub000/common/config"
	"github.com/callmeahab/energy-management-sub000/internal/models"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier 写入 Kafka topic，key 为同步类型
type KafkaNotifier struct {
	writer messageWriter
	topic  string
}

// NewKafkaNotifier 创建 Kafka 通知
func NewKafkaNotifier(cfg commoncfg.KafkaConfig, topic string) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &KafkaNotifier{writer: w, topic: topic}
}

// Notify 实现 Notifier
func (n *KafkaNotifier) Notify(ctx context.Context, entry *models.SyncStatusEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal sync event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(entry.SyncType),
		Value: payload,
		Time:  entry.CreatedAt,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write sync event to kafka topic %s: %w", n.topic, err)
	}
	return nil
}

// Close 关闭 writer，刷新未发送的消息
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// Package forward 将游戏事件以标准化信封投递到外部队列。
package forward

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/gamefleet/pkg/idgen"
	"github.com/lk2023060901/gamefleet/pkg/logger"
	"github.com/lk2023060901/gamefleet/pkg/mq/kafka"
)

// Envelope 外发事件信封
type Envelope struct {
	EventID    string          `json:"eventId"`
	Type       string          `json:"type"`
	Event      json.RawMessage `json:"event,omitempty"`
	TenantID   string          `json:"tenantId"`
	ServerID   string          `json:"serverId"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Forwarder 事件转发器接口
type Forwarder interface {
	Forward(ctx context.Context, env *Envelope) error
}

// producer 仅依赖发布能力，便于测试替身
type producer interface {
	Publish(ctx context.Context, msg *kafka.Message) error
}

// KafkaForwarder 基于 Kafka 的事件转发器。
// 以 serverId 作为分区键，保证单台服务器的事件有序。
type KafkaForwarder struct {
	producer producer
	idgen    idgen.Generator
	logger   logger.Logger
}

// NewKafkaForwarder 创建转发器
func NewKafkaForwarder(p *kafka.Producer, gen idgen.Generator, log logger.Logger) *KafkaForwarder {
	if log == nil {
		log = logger.Noop()
	}
	return &KafkaForwarder{
		producer: p,
		idgen:    gen,
		logger:   log.Named("forward"),
	}
}

// Forward 发布一条事件信封。EventID 为空时自动生成。
func (f *KafkaForwarder) Forward(ctx context.Context, env *Envelope) error {
	if env.EventID == "" {
		id, err := f.idgen.NextID()
		if err != nil {
			return errors.Wrap(err, "forward: failed to generate event id")
		}
		env.EventID = strconv.FormatInt(id, 10)
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(env)
	if err != nil {
		return errors.Wrapf(err, "forward: failed to marshal envelope for server %s", env.ServerID)
	}

	if err := f.producer.Publish(ctx, &kafka.Message{
		Key:   []byte(env.ServerID),
		Value: value,
	}); err != nil {
		return errors.Wrapf(err, "forward: failed to publish %s event for server %s", env.Type, env.ServerID)
	}

	f.logger.Debug("event forwarded",
		"event_id", env.EventID,
		"type", env.Type,
		"tenant_id", env.TenantID,
		"server_id", env.ServerID,
	)
	return nil
}

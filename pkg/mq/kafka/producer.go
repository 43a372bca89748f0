package kafka

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message 待发布的消息
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// ProducerStats 生产者统计
type ProducerStats struct {
	MessagesProduced  int64
	MessagesSucceeded int64
	MessagesFailed    int64
	LastMessageTime   time.Time
}

// Producer Kafka 生产者
type Producer struct {
	topic  string
	writer *kafka.Writer

	stats ProducerStats

	closed atomic.Bool
}

// NewProducer 创建生产者
func NewProducer(cfg *Config) (*Producer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pc := cfg.Producer
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              pc.BatchSize,
		BatchTimeout:           pc.BatchTimeout,
		MaxAttempts:            pc.MaxRetries + 1,
		WriteTimeout:           pc.WriteTimeout,
		ReadTimeout:            pc.ReadTimeout,
		RequiredAcks:           kafka.RequiredAcks(pc.RequiredAcks),
		Async:                  pc.Async,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		topic:  cfg.Topic,
		writer: writer,
	}, nil
}

// Publish 发布单条消息
func (p *Producer) Publish(ctx context.Context, msg *Message) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	atomic.AddInt64(&p.stats.MessagesProduced, 1)

	kafkaMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
	}
	if len(msg.Headers) > 0 {
		headers := make([]kafka.Header, 0, len(msg.Headers))
		for k, v := range msg.Headers {
			headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		kafkaMsg.Headers = headers
	}

	err := p.writer.WriteMessages(ctx, kafkaMsg)
	if err != nil {
		atomic.AddInt64(&p.stats.MessagesFailed, 1)
		return err
	}

	atomic.AddInt64(&p.stats.MessagesSucceeded, 1)
	p.stats.LastMessageTime = time.Now()
	return nil
}

// Topic 返回目标主题
func (p *Producer) Topic() string {
	return p.topic
}

// Stats 返回统计快照
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesProduced:  atomic.LoadInt64(&p.stats.MessagesProduced),
		MessagesSucceeded: atomic.LoadInt64(&p.stats.MessagesSucceeded),
		MessagesFailed:    atomic.LoadInt64(&p.stats.MessagesFailed),
		LastMessageTime:   p.stats.LastMessageTime,
	}
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.writer.Close()
}

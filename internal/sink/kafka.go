package sink

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/SteelMorgan/oplog-tailer/internal/config"
	"github.com/SteelMorgan/oplog-tailer/internal/oplog"
	"github.com/SteelMorgan/oplog-tailer/internal/retry"
)

const (
	DefaultKafkaBatchSize  = 100
	DefaultKafkaBatchBytes = 1 << 20 // 1MB
)

func init() {
	Register("kafka", func(ctx context.Context, cfg *config.Config) (Sink, error) {
		return NewKafkaSink(DefaultKafkaConfig(cfg.KafkaBrokers, cfg.KafkaTopic))
	})
}

// KafkaConfig holds configuration for KafkaSink
type KafkaConfig struct {
	Brokers          []string
	Topic            string
	BatchSize        int
	BatchBytes       int64
	RequiredAcks     kafka.RequiredAcks
	AutoCreateTopics bool
}

// DefaultKafkaConfig returns a KafkaConfig with sensible defaults
func DefaultKafkaConfig(brokers []string, topic string) KafkaConfig {
	return KafkaConfig{
		Brokers:          brokers,
		Topic:            topic,
		BatchSize:        DefaultKafkaBatchSize,
		BatchBytes:       DefaultKafkaBatchBytes,
		RequiredAcks:     kafka.RequireAll,
		AutoCreateTopics: true,
	}
}

// messageWriter is the part of kafka.Writer the sink uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes captured entries to a Kafka topic, keyed by document id
// so changes to one document stay in one partition
type KafkaSink struct {
	writer   messageWriter
	topic    string
	retryCfg retry.Config
}

// NewKafkaSink creates a KafkaSink with the given configuration
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka sink requires a topic")
	}
	if config.BatchSize == 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes == 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              config.BatchSize,
		BatchBytes:             config.BatchBytes,
		RequiredAcks:           config.RequiredAcks,
		Async:                  false,
		AllowAutoTopicCreation: config.AutoCreateTopics,
	}

	return &KafkaSink{writer: writer, topic: config.Topic, retryCfg: retry.DefaultConfig()}, nil
}

// Handle writes the entry synchronously
func (k *KafkaSink) Handle(ctx context.Context, entry *oplog.Entry) error {
	data, err := NewEvent(ctx, entry).Encode()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := kafka.Message{
		Topic: k.topic,
		Key:   []byte(entry.DocumentKey()),
		Value: data,
	}

	return retry.Do(ctx, k.retryCfg, func() error {
		return k.writer.WriteMessages(ctx, msg)
	})
}

// Close releases resources held by the KafkaSink
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

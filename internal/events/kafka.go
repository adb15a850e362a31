package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"metagen/server/internal/model"
)

// Sink receives settled-generation events for downstream consumers.
type Sink interface {
	Emit(ctx context.Context, evt model.WorkspaceEvent) error
	Close() error
}

type NopSink struct{}

func (NopSink) Emit(context.Context, model.WorkspaceEvent) error { return nil }
func (NopSink) Close() error                                     { return nil }

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaSink publishes events keyed by workspace so a workspace's events stay
// ordered within one partition.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Timeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaSinkWithProducer(producer, cfg.Topic), nil
}

func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (k *KafkaSink) Emit(ctx context.Context, evt model.WorkspaceEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(struct {
		model.WorkspaceEvent
		UserID string `json:"user_id"`
	}{evt, evt.UserID})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     k.topic,
		Key:       sarama.StringEncoder(evt.WorkspaceID),
		Value:     sarama.ByteEncoder(body),
		Timestamp: evt.TS,
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(evt.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("send event: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error { return k.producer.Close() }

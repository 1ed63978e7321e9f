// Package publish sends invalidation events to the bus the cache
// processes listen on.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/places-cache/internal/invalidation"
)

type Publisher interface {
	Publish(ctx context.Context, ev invalidation.Event) error
	Close() error
}

func encode(ev invalidation.Event) ([]byte, error) {
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("publish: marshal: %w", err)
	}
	return b, nil
}

type Kafka struct {
	topic string
	prod  sarama.SyncProducer
}

func NewKafka(brokers []string, topic string) (*Kafka, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "cache-invalidate"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("publish: create sync producer: %w", err)
	}
	return NewKafkaWithProducer(prod, topic), nil
}

func NewKafkaWithProducer(prod sarama.SyncProducer, topic string) *Kafka {
	return &Kafka{topic: topic, prod: prod}
}

// Publish keys the message by event id so redeliveries land on one partition.
func (k *Kafka) Publish(_ context.Context, ev invalidation.Event) error {
	b, err := encode(ev)
	if err != nil {
		return err
	}
	_, _, err = k.prod.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(ev.ID),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return fmt.Errorf("publish: kafka send: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	if err := k.prod.Close(); err != nil {
		return fmt.Errorf("publish: close producer: %w", err)
	}
	return nil
}

type Redis struct {
	rdb     *redis.Client
	channel string
}

func NewRedis(rdb *redis.Client, channel string) *Redis {
	return &Redis{rdb: rdb, channel: channel}
}

func (r *Redis) Publish(ctx context.Context, ev invalidation.Event) error {
	_, err := r.PublishCount(ctx, ev)
	return err
}

// PublishCount also reports how many subscribers received the event.
func (r *Redis) PublishCount(ctx context.Context, ev invalidation.Event) (int64, error) {
	b, err := encode(ev)
	if err != nil {
		return 0, err
	}
	n, err := r.rdb.Publish(ctx, r.channel, b).Result()
	if err != nil {
		return 0, fmt.Errorf("publish: redis PUBLISH %s: %w", r.channel, err)
	}
	return n, nil
}

func (r *Redis) Close() error {
	if err := r.rdb.Close(); err != nil {
		return fmt.Errorf("publish: redis close: %w", err)
	}
	return nil
}

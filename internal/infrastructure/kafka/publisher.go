// Package kafka carries the broadcast leg: events fan out to
// events.<CommandName> topics, keyed by business key so consumers see
// per-aggregate ordering.
package kafka

import (
	"context"
	"fmt"

	"github.com/acme/reliable/internal/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher implements domain.EventPublisher over franz-go. Delivery
// semantics stay at-least-once; the outbox relay retries any produce
// failure, so no transactional producer is needed here.
type Publisher struct {
	client *kgo.Client
	log    zerolog.Logger
}

func NewPublisher(brokers []string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.RequestRetries(10),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	return &Publisher{
		client: client,
		log:    logger.Logger.With().Str("component", "kafka_publisher").Logger(),
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, topic, key, value string, headers map[string]string) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: []byte(value),
	}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}

	p.log.Debug().Str("topic", topic).Str("key", key).Msg("event published")
	return nil
}

func (p *Publisher) Close() {
	p.client.Close()
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ShopCx/PaymentService/internal/domain"
	"github.com/segmentio/kafka-go"
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher writes lifecycle events to a Kafka topic keyed by transaction id,
// so all events of one transaction land on one partition in order.
type Publisher struct {
	log      *slog.Logger
	producer Producer
	topic    string
	source   string
}

func NewPublisher(log *slog.Logger, producer Producer, topic, source string) *Publisher {
	return &Publisher{log: log, producer: producer, topic: topic, source: source}
}

// NewKafkaWriter builds the writer used in production.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func (p *Publisher) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(ev.AggregateID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "source", Value: []byte(p.source)},
		},
	}
	if err := p.producer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("event dispatch failed", "type", ev.Type, "aggregate_id", ev.AggregateID, "err", err)
		return err
	}
	p.log.Debug("event dispatched", "type", ev.Type, "aggregate_id", ev.AggregateID)
	return nil
}

// Discard is used when no broker is configured.
type Discard struct{}

func (Discard) Publish(context.Context, domain.Event) error { return nil }

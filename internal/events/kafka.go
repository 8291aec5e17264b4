package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/punchamoorthee/tokenledger/internal/models"
	"github.com/segmentio/kafka-go"
)

// Publisher announces committed ledger changes to downstream consumers.
type Publisher interface {
	PublishTopUpCompleted(ctx context.Context, evt models.TopUpCompleted) error
	Close() error
}

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // same user, same partition
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		MaxAttempts:  10,
	}
}

func NewKafkaPublisher(writer messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) PublishTopUpCompleted(ctx context.Context, evt models.TopUpCompleted) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal kafka message: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(evt.UserID, 10)),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("ledger.topup.completed")},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishTopUpCompleted(context.Context, models.TopUpCompleted) error { return nil }
func (NopPublisher) Close() error                                                      { return nil }

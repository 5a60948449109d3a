package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hetulpatel/darwin/internal/models"
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher streams signals and scout alerts to their topics.
type Publisher struct {
	writer      MessageWriter
	signalTopic string
	scoutTopic  string
	timeout     time.Duration
}

// NewPublisher wraps writer. writer must accept per-message topics.
func NewPublisher(writer MessageWriter, signalTopic, scoutTopic string) *Publisher {
	return &Publisher{writer: writer, signalTopic: signalTopic, scoutTopic: scoutTopic, timeout: 10 * time.Second}
}

// PublishSignal writes sig keyed by market id.
func (p *Publisher) PublishSignal(ctx context.Context, sig models.Signal) error {
	if p == nil || p.writer == nil {
		return nil
	}
	msg, err := signalMessage(p.signalTopic, sig)
	if err != nil {
		return err
	}
	return p.write(ctx, msg)
}

// Notify publishes a scout alert keyed by market id.
func (p *Publisher) Notify(ctx context.Context, alert models.ScoutAlert) error {
	if p == nil || p.writer == nil {
		return nil
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal scout alert %s: %w", alert.MarketID, err)
	}
	return p.write(ctx, kafka.Message{Topic: p.scoutTopic, Key: []byte(alert.MarketID), Value: payload})
}

func (p *Publisher) write(ctx context.Context, msgs ...kafka.Message) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, msgs...)
}

func signalMessage(topic string, sig models.Signal) (kafka.Message, error) {
	payload, err := json.Marshal(sig)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal signal %s: %w", sig.ID, err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(sig.MarketID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "signal_id", Value: []byte(sig.ID)},
			{Key: "direction", Value: []byte(sig.Direction)},
		},
		Time: sig.CreatedAt,
	}, nil
}

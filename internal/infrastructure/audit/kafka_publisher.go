// Package audit publishes session lifecycle events to Kafka, or to the audit log when Kafka is off.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/portal-gateway/internal/config"
	"github.com/turtacn/portal-gateway/internal/domain/models"
	"github.com/turtacn/portal-gateway/internal/domain/service"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

var (
	_ service.AuthEventPublisher = (*KafkaPublisher)(nil)
	_ service.AuthEventPublisher = (*LogPublisher)(nil)
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher is a Kafka-backed AuthEventPublisher. Messages are keyed by session ID
// so that one session's events land on one partition in order.
type KafkaPublisher struct {
	writer messageWriter
	logger logger.Logger
}

// NewKafkaPublisher creates a new KafkaPublisher.
func NewKafkaPublisher(cfg config.KafkaConfig, log logger.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 5 * time.Second,
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        false,
	}
	return newKafkaPublisher(writer, log)
}

func newKafkaPublisher(w messageWriter, log logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		logger: log.WithComponent("KafkaPublisher"),
	}
}

// Publish sends an auth event to the Kafka topic.
func (p *KafkaPublisher) Publish(ctx context.Context, event models.AuthEvent) error {
	bytes, err := json.Marshal(event)
	if err != nil {
		p.logger.Error(ctx, "failed to marshal auth event", err)
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.SessionID),
		Value: bytes,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
		Time: event.Timestamp,
	})
	if err != nil {
		p.logger.Error(ctx, "failed to write message to Kafka", err,
			logger.String("event_type", string(event.Type)),
		)
	}
	return err
}

// Close closes the underlying Kafka writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes auth events to the structured audit log.
type LogPublisher struct {
	audit *logger.AuditLogger
}

func NewLogPublisher(log logger.Logger) *LogPublisher {
	return &LogPublisher{audit: logger.NewAuditLogger(log)}
}

func (p *LogPublisher) Publish(ctx context.Context, event models.AuthEvent) error {
	p.audit.LogAuthEvent(ctx, event.Type,
		logger.String("session_id", event.SessionID),
		logger.String("subject", event.Subject),
		logger.String("username", event.Username),
		logger.String("reason", event.Reason),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

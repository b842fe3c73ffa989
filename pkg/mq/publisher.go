package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"contractsvc/pkg/otel"
	"contractsvc/pkg/trace"
)

const (
	// HeaderTraceID 业务 trace_id，与 HTTP 的 X-Trace-ID 对应
	HeaderTraceID = "x-trace-id"
)

type Publisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	// amqp091 channel 不是并发安全的
	mu sync.Mutex
}

func NewPublisher(url string) (*Publisher, error) {
	conn, ch, err := openChannel(url)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		conn:    conn,
		channel: ch,
	}, nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// IsConnected checks if the publisher connection is still alive
func (p *Publisher) IsConnected() bool {
	if p.conn == nil || p.channel == nil {
		return false
	}
	return !p.conn.IsClosed()
}

// Publish publishes an event to the exchange with the given routing key.
func (p *Publisher) Publish(routingKey string, payload any) error {
	return p.PublishWithContext(context.Background(), routingKey, payload)
}

// PublishWithContext publishes payload with a fresh message id, carrying the
// business trace id and the span context of ctx in the headers.
func (p *Publisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	return p.PublishMessage(ctx, routingKey, uuid.NewString(), payload)
}

// PublishMessage publishes payload under an explicit message id. The outbox
// dispatcher reuses the id stored with the event so consumers can dedupe
// redeliveries.
func (p *Publisher) PublishMessage(ctx context.Context, routingKey, messageID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, span := otel.MQPublishSpan(ctx, routingKey, ExchangeName)
	defer span.End()

	headers := amqp091.Table{}
	if traceID := trace.FromContext(ctx); traceID != "" {
		headers[HeaderTraceID] = traceID
	}
	otel.InjectMQ(ctx, headers)

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx,
		ExchangeName,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Headers:      headers,
		},
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}
	return nil
}

package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"contractsvc/pkg/metrics"
	"contractsvc/pkg/otel"
	"contractsvc/pkg/trace"
)

// Message is one delivery as seen by a handler.
type Message struct {
	ID         string
	RoutingKey string
	Body       json.RawMessage
}

type MessageHandler func(ctx context.Context, msg Message) error

type Consumer struct {
	channel     *amqp091.Channel
	queue       amqp091.Queue
	bindingKey  string
	consumerTag string
	handler     MessageHandler
	conn        *amqp091.Connection
	logger      *zap.Logger
}

// NewConsumer creates a consumer whose queue is bound with bindingKey, which
// may be a topic pattern such as "payment.milestone.*".
func NewConsumer(url, queueName, bindingKey string, logger *zap.Logger) (*Consumer, error) {
	conn, ch, err := openChannel(url)
	if err != nil {
		return nil, err
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, bindingKey, ExchangeName, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	if err := ch.Qos(16, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("binding_key", bindingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:        conn,
		channel:     ch,
		queue:       q,
		bindingKey:  bindingKey,
		consumerTag: queueName + "-consumer",
		logger:      logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// IsConnected reports whether the underlying connection is open.
func (c *Consumer) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosed()
}

// StartConsuming consumes until ctx is done or the delivery channel closes.
// It blocks and should be called in a goroutine.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		c.consumerTag,
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("binding_key", c.bindingKey),
		zap.String("queue", c.queue.Name),
	)

	for {
		select {
		case <-ctx.Done():
			_ = c.channel.Cancel(c.consumerTag, false)
			c.logger.Info("Consumer stopped", zap.String("queue", c.queue.Name))
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				if !c.IsConnected() {
					return fmt.Errorf("connection to broker lost for queue %s", c.queue.Name)
				}
				return fmt.Errorf("delivery channel closed for queue %s", c.queue.Name)
			}
			c.handle(ctx, msg)
		}
	}
}

// handle 保证每条消息都会被 ack 或 nack
func (c *Consumer) handle(parent context.Context, msg amqp091.Delivery) {
	start := time.Now()
	ctx := otel.ExtractMQ(parent, msg.Headers)
	if traceID, ok := msg.Headers[HeaderTraceID].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	} else {
		ctx = trace.WithContext(ctx, trace.GenerateTraceID())
	}
	ctx, span := otel.MQConsumeSpan(ctx, msg.RoutingKey, c.queue.Name)
	defer span.End()
	defer metrics.RecordMQConsumeLatency(msg.RoutingKey, c.queue.Name, time.Since(start))

	log := c.logger.With(
		zap.String("routing_key", msg.RoutingKey),
		zap.String("queue", c.queue.Name),
		zap.String("message_id", msg.MessageId),
		zap.String("trace_id", trace.FromContext(ctx)),
	)
	log.Debug("Received message", zap.Int("message_size", len(msg.Body)))

	// Panic 恢复：确保即使 handler panic 也能正确处理消息
	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panic recovered", zap.Any("panic", r))
			if err := msg.Nack(false, true); err != nil {
				log.Error("Failed to nack message after panic", zap.Error(err))
			}
		}
	}()

	err := c.handler(ctx, Message{
		ID:         msg.MessageId,
		RoutingKey: msg.RoutingKey,
		Body:       msg.Body,
	})
	if err != nil {
		span.RecordError(err)
		log.Error("Handler error", zap.Error(err))
		// 业务失败 → 拒绝消息并重新入队，让 MQ 重试
		if err := msg.Nack(false, true); err != nil {
			log.Error("Failed to nack message", zap.Error(err))
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		log.Error("Failed to ack message", zap.Error(err))
		return
	}
	log.Debug("Message processed successfully")
}

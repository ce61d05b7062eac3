package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler — обработчик одного сообщения.
//
// nil подтверждает сообщение. Ошибка возвращает его в очередь один раз:
// повторно доставленное сообщение уходит в DLQ. Ошибка, обёрнутая
// в ErrReject, сразу отправляет сообщение в DLQ.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — сообщение, доставленное consumer'у.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// Consumer читает очередь и передаёт сообщения Handler'у.
// Разрыв соединения не останавливает Consumer: он подписывается
// заново после переподключения Connection.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	types    []MessageType
	handler  Handler
	prefetch int

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	Queue   string
	Handler Handler

	// Types — допустимые типы сообщений. Остальные уходят в DLQ.
	// Пустой список принимает любой тип.
	Types []MessageType

	// Prefetch — сообщений без ack на канале (default: 1).
	Prefetch int
}

// NewConsumer создаёт Consumer очереди cfg.Queue.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		types:    cfg.Types,
		handler:  cfg.Handler,
		prefetch: max(cfg.Prefetch, 1),
	}
}

// Start читает очередь до отмены ctx или Stop и возвращает ctx.Err().
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer cancel()

	for {
		// канал берётся до подписки: переподключение между ними не теряется
		redialed := c.conn.ReconnectNotify()

		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("failed to subscribe", "error", err)
		} else {
			c.logger.Info("consumer started")
			c.drain(ctx, deliveries)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-redialed:
			c.logger.Info("resubscribing after reconnect")
		}
	}
}

// Stop останавливает Consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// subscribe выставляет prefetch и подписывается на очередь с ручным ack.
func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return deliveries, nil
}

// drain обрабатывает сообщения, пока канал доставки открыт.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed")
				return
			}
			c.settle(raw, c.handle(ctx, raw))
		}
	}
}

// handle разбирает сообщение и вызывает Handler.
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) error {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrReject, err)
	}
	if msg.Type == "" {
		msg.Type = MessageType(raw.Type)
	}
	if len(c.types) > 0 && !slices.Contains(c.types, msg.Type) {
		return fmt.Errorf("%w: unexpected type %q", ErrReject, msg.Type)
	}

	c.logger.Debug("received message", "message_id", msg.ID, "type", msg.Type)
	return c.handler(ctx, &Delivery{Message: msg, Raw: raw})
}

// settle подтверждает или отклоняет сообщение по результату handle.
func (c *Consumer) settle(raw amqp.Delivery, err error) {
	if err == nil {
		if ackErr := raw.Ack(false); ackErr != nil {
			c.logger.Warn("ack failed", "error", ackErr)
		}
		return
	}

	requeue := !errors.Is(err, ErrReject) && !raw.Redelivered
	c.logger.Error("message not processed",
		"message_id", raw.MessageId,
		"requeue", requeue,
		"error", err,
	)
	if nackErr := raw.Nack(false, requeue); nackErr != nil {
		c.logger.Warn("nack failed", "error", nackErr)
	}
}

// ParsePayload декодирует payload сообщения в T.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}

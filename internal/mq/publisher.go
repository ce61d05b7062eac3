package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/flowcase/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeCaseCreate   MessageType = "case.create"
	MessageTypeCaseFinished MessageType = "case.finished"
)

// Publisher публикует события case в ExchangeCases.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher на соединении conn.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// Message — конверт сообщения в очереди.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// CaseCreatePayload — запрос на создание case.
type CaseCreatePayload struct {
	CaseType   string           `json:"case_type"`
	ExternalID string           `json:"external_id,omitempty"`
	Params     json.RawMessage  `json:"params,omitempty"`
	Assets     []string         `json:"assets,omitempty"`
	Callback   *domain.Callback `json:"callback,omitempty"`
}

// CaseFinishedPayload — событие о завершении case.
type CaseFinishedPayload struct {
	CaseID     uuid.UUID        `json:"case_id"`
	CaseType   string           `json:"case_type"`
	ExternalID string           `json:"external_id,omitempty"`
	State      domain.CaseState `json:"state"`
	Finished   *time.Time       `json:"finished,omitempty"`
}

// NewMessage оборачивает payload в конверт с новым id.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// publishing кодирует сообщение в persistent AMQP publishing.
func (m *Message) publishing() (amqp.Publishing, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal message %s: %w", m.Type, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    m.ID,
		Timestamp:    m.Timestamp,
		Type:         string(m.Type),
		AppId:        "flowcase",
		Body:         body,
	}, nil
}

// Publish отправляет msg в exchange с ключом routingKey.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	pub, err := msg.publishing()
	if err != nil {
		return err
	}
	err = p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false, pub)
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", msg.Type, exchange, err)
	}
	p.logger.Debug("published message", "message_id", msg.ID, "type", msg.Type, "routing_key", routingKey)
	return nil
}

// PublishCaseCreate публикует запрос на создание case.
// Потребитель: flowcase-server.
func (p *Publisher) PublishCaseCreate(ctx context.Context, payload CaseCreatePayload) error {
	return p.Publish(ctx, ExchangeCases, RoutingKeyCreate, NewMessage(MessageTypeCaseCreate, payload))
}

// PublishCaseFinished публикует событие о завершении case.
func (p *Publisher) PublishCaseFinished(ctx context.Context, c *domain.Case) error {
	return p.Publish(ctx, ExchangeCases, RoutingKeyFinished, NewMessage(MessageTypeCaseFinished, FinishedPayload(c)))
}

// FinishedPayload собирает payload события о завершении case.
func FinishedPayload(c *domain.Case) CaseFinishedPayload {
	return CaseFinishedPayload{
		CaseID:     c.ID,
		CaseType:   c.CaseType,
		ExternalID: c.ExternalID,
		State:      c.State,
		Finished:   c.Finished,
	}
}

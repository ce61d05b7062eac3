package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeCases Exchange = "flowcase.cases"
	ExchangeDLQ   Exchange = "flowcase.dlq"
)

const (
	QueueCasesCreate   Queue = "cases.create"
	QueueCasesFinished Queue = "cases.finished"
	QueueDLQCases      Queue = "dlq.cases"
)

const (
	RoutingKeyCreate   RoutingKey = "create"
	RoutingKeyFinished RoutingKey = "finished"
	RoutingKeyDLQCases RoutingKey = "cases"
)

// QueueSpec — очередь, её привязка и аргументы.
type QueueSpec struct {
	Name       Queue
	Exchange   Exchange
	RoutingKey RoutingKey

	// DeadLetter — отклонённые сообщения уходят в ExchangeDLQ.
	DeadLetter bool
}

// Topology — очереди flowcase. Все exchanges имеют тип direct.
//
// cases.create читает flowcase-server, cases.finished — внешние
// подписчики, dlq.cases разбирается вручную.
var Topology = []QueueSpec{
	{Name: QueueCasesCreate, Exchange: ExchangeCases, RoutingKey: RoutingKeyCreate, DeadLetter: true},
	{Name: QueueCasesFinished, Exchange: ExchangeCases, RoutingKey: RoutingKeyFinished},
	{Name: QueueDLQCases, Exchange: ExchangeDLQ, RoutingKey: RoutingKeyDLQCases},
}

// SetupTopology объявляет exchanges, очереди и привязки из Topology.
// Повторный вызов ничего не меняет.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		declared := make(map[Exchange]bool)
		for _, q := range Topology {
			if !declared[q.Exchange] {
				if err := ch.ExchangeDeclare(string(q.Exchange), amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
					return fmt.Errorf("declare exchange %s: %w", q.Exchange, err)
				}
				declared[q.Exchange] = true
			}
			if err := declareQueue(ch, q); err != nil {
				return err
			}
		}
		return nil
	})
}

func declareQueue(ch *amqp.Channel, q QueueSpec) error {
	var args amqp.Table
	if q.DeadLetter {
		args = amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQCases),
		}
	}
	if _, err := ch.QueueDeclare(string(q.Name), true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", q.Name, err)
	}
	if err := ch.QueueBind(string(q.Name), string(q.RoutingKey), string(q.Exchange), false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", q.Name, q.Exchange, err)
	}
	return nil
}

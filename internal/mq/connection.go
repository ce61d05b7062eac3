package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Задержки переподключения.
const (
	minRedialDelay = time.Second
	maxRedialDelay = 30 * time.Second
)

// Connection — AMQP соединение сервера с одним разделяемым каналом.
//
// При разрыве соединение восстанавливается в фоне. Каждое успешное
// восстановление закрывает текущий канал ReconnectNotify, поэтому
// уведомление получают все consumers, а не только первый.
type Connection struct {
	url    string
	logger *slog.Logger

	mu       sync.RWMutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	redialed chan struct{}
	closed   bool
	done     chan struct{}
}

// NewConnection подключается к RabbitMQ по url.
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		url:      url,
		logger:   logger.With("component", "amqp"),
		redialed: make(chan struct{}),
		done:     make(chan struct{}),
	}

	conn, ch, err := dial(url)
	if err != nil {
		return nil, err
	}
	c.conn, c.channel = conn, ch
	c.logger.Info("connected to RabbitMQ")

	go c.supervise(conn)
	return c, nil
}

// dial открывает соединение и канал на нём.
func dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}

// supervise ждёт разрыва conn и восстанавливает соединение,
// пока Connection не закрыт.
func (c *Connection) supervise(conn *amqp.Connection) {
	for {
		lost := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.done:
			return
		case err := <-lost:
			if err != nil {
				c.logger.Warn("connection lost", "error", err)
			}
		}

		next, ok := c.redial()
		if !ok {
			return
		}
		conn = next
	}
}

// redial переподключается с экспоненциальной задержкой.
// false — Connection закрыт во время ожидания.
func (c *Connection) redial() (*amqp.Connection, bool) {
	delay := minRedialDelay
	for {
		select {
		case <-c.done:
			return nil, false
		case <-time.After(delay):
		}

		conn, ch, err := dial(c.url)
		if err != nil {
			c.logger.Warn("reconnect failed", "delay", delay, "error", err)
			delay = min(delay*2, maxRedialDelay)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return nil, false
		}
		c.conn, c.channel = conn, ch
		close(c.redialed)
		c.redialed = make(chan struct{})
		c.mu.Unlock()

		c.logger.Info("reconnected to RabbitMQ")
		return conn, true
	}
}

// Channel возвращает текущий AMQP канал.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// ReconnectNotify возвращает канал, который закроется
// при следующем переподключении.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.redialed
}

// Close закрывает канал и соединение. Повторный вызов ничего не делает.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	var errs []error
	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	c.logger.Info("connection closed")
	return errors.Join(errs...)
}

// WithChannel выполняет fn с текущим каналом.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := c.Channel()
	if ch == nil || ch.IsClosed() {
		return ErrNoChannel
	}
	return fn(ch)
}

package mq

import "errors"

var (
	// ErrNoChannel — соединение с RabbitMQ не установлено.
	ErrNoChannel = errors.New("mq: no channel available")

	// ErrReject — сообщение не может быть обработано и уходит в DLQ.
	ErrReject = errors.New("mq: message rejected")
)

// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - case.create    — создать case (публикует flowcase-scheduler и внешние системы)
//   - case.finished  — case завершён (публикует flowcase-server)
//
// Exchanges:
//   - flowcase.cases — события case
//   - flowcase.dlq   — dead letter queue
package mq

// Package mq доставляет забранные schedules через RabbitMQ.
//
// Структура:
//   - connection.go: соединение с reconnect
//   - topology.go: exchanges, queues, bindings
//   - publisher.go: публикация schedule.due и ScheduleDispatcher для poller
//   - consumer.go: потребление с ack/requeue/DLQ
//
// Exchanges:
//   - schedq.schedules: schedules.due (routing key due)
//   - schedq.dlq: dlq.schedules
//
// Формат сообщения не является внешним контрактом: его читает только
// schedq-worker.
package mq

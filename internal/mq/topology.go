package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange имя обменника.
type Exchange string

// Queue имя очереди.
type Queue string

// RoutingKey ключ маршрутизации.
type RoutingKey string

const (
	ExchangeSchedules Exchange = "schedq.schedules"
	ExchangeDLQ       Exchange = "schedq.dlq"
)

const (
	QueueSchedulesDue Queue = "schedules.due"
	QueueDLQSchedules Queue = "dlq.schedules"
)

const (
	RoutingKeyDue          RoutingKey = "due"
	RoutingKeyDLQSchedules RoutingKey = "schedules"
)

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

// Topology полный набор объявлений брокера.
type Topology struct {
	exchanges []exchangeDecl
	queues    []queueDecl
	bindings  []bindingDecl
}

// DefaultTopology exchanges, queues и bindings schedq.
//
// schedules.due dead-letter-ится в dlq.schedules: туда попадают сообщения,
// которые worker отверг без повторной постановки.
func DefaultTopology() Topology {
	return Topology{
		exchanges: []exchangeDecl{
			{ExchangeSchedules, amqp.ExchangeDirect},
			{ExchangeDLQ, amqp.ExchangeDirect},
		},
		queues: []queueDecl{
			{QueueSchedulesDue, amqp.Table{
				"x-dead-letter-exchange":    string(ExchangeDLQ),
				"x-dead-letter-routing-key": string(RoutingKeyDLQSchedules),
			}},
			{QueueDLQSchedules, nil},
		},
		bindings: []bindingDecl{
			{QueueSchedulesDue, RoutingKeyDue, ExchangeSchedules},
			{QueueDLQSchedules, RoutingKeyDLQSchedules, ExchangeDLQ},
		},
	}
}

// SetupTopology объявляет DefaultTopology. Повторный вызов безопасен.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, DefaultTopology().Declare)
}

// Declare объявляет exchanges, затем queues, затем bindings.
func (t Topology) Declare(ch *amqp.Channel) error {
	for _, ex := range t.exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	for _, q := range t.queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	for _, b := range t.bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  schedq RabbitMQ topology:

    schedq.schedules (direct)
    └── schedules.due [routing: due]
            Producer: schedq-poller
            Consumer: schedq-worker
            DLQ: dlq.schedules

    schedq.dlq (direct)
    └── dlq.schedules [routing: schedules]
            Manual processing
`
}

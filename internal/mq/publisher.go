package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/schedq/internal/domain"
	"github.com/shaiso/schedq/internal/telemetry"
)

// MessageType тип сообщения в очереди.
type MessageType string

const (
	// MessageTypeScheduleDue пара (workflow, schedule) забрана poller.
	MessageTypeScheduleDue MessageType = "schedule.due"
)

// Message конверт сообщения.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// ScheduleSnapshot состояние schedule на момент claim.
type ScheduleSnapshot struct {
	OwnerID               uuid.UUID       `json:"owner_id"`
	UpdateIntervalSeconds int             `json:"update_interval_seconds"`
	Metadata              json.RawMessage `json:"metadata"`
	CreatedAt             time.Time       `json:"created_at"`

	// UpdatedAt значение до claim, т.е. срок, за который этот вызов.
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduleDuePayload payload сообщения schedule.due.
type ScheduleDuePayload struct {
	WorkflowID uuid.UUID        `json:"workflow_id"`
	ScheduleID uuid.UUID        `json:"schedule_id"`
	Schedule   ScheduleSnapshot `json:"schedule"`
	ClaimedAt  time.Time        `json:"claimed_at"`
}

// NewScheduleDuePayload строит payload из забранной пары.
func NewScheduleDuePayload(item domain.ClaimedItem, claimedAt time.Time) ScheduleDuePayload {
	p := ScheduleDuePayload{
		WorkflowID: item.WorkflowID,
		ScheduleID: item.ScheduleID,
		ClaimedAt:  claimedAt.UTC(),
	}
	if s := item.Schedule; s != nil {
		p.Schedule = ScheduleSnapshot{
			OwnerID:               s.OwnerID,
			UpdateIntervalSeconds: s.IntervalSeconds(),
			Metadata:              s.Metadata,
			CreatedAt:             s.CreatedAt,
			UpdatedAt:             s.UpdatedAt,
		}
	}
	return p
}

// NewMessage упаковывает payload в конверт с новым id.
func NewMessage(msgType MessageType, payload any) (*Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   body,
		Timestamp: time.Now().UTC(),
	}, nil
}

// ErrNacked брокер отказался принять сообщение.
var ErrNacked = errors.New("broker nacked message")

// confirmSource отдаёт канал в confirm mode. Реализуется *Connection.
type confirmSource interface {
	WithConfirmChannel(ctx context.Context, fn func(ch ConfirmChannel) error) error
}

// Publisher публикует сообщения в RabbitMQ и ждёт подтверждения брокера.
type Publisher struct {
	channels confirmSource
	logger   *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		channels: conn,
		logger:   logger,
	}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	return p.PublishBatch(ctx, exchange, routingKey, []*Message{msg})
}

// PublishBatch публикует сообщения по порядку, удерживая канал на всю пачку,
// и возвращается только после ack брокера на каждое сообщение.
// Ошибка публикации, nack или истёкший ctx означают, что пачка не доставлена
// целиком.
func (p *Publisher) PublishBatch(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	publishings := make([]amqp.Publishing, len(msgs))
	for i, msg := range msgs {
		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		publishings[i] = amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Type:         string(msg.Type),
			Timestamp:    msg.Timestamp,
			Body:         body,
		}
	}

	return p.channels.WithConfirmChannel(ctx, func(ch ConfirmChannel) error {
		confirms := make([]Confirmation, len(publishings))
		for i := range publishings {
			confirm, err := ch.PublishConfirmed(ctx, string(exchange), string(routingKey), publishings[i])
			if err != nil {
				return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
			}
			confirms[i] = confirm
		}

		for i, confirm := range confirms {
			acked, err := confirm.WaitContext(ctx)
			if err != nil {
				return fmt.Errorf("wait confirm for message %s: %w", msgs[i].ID, err)
			}
			if !acked {
				return fmt.Errorf("%w: %s to %s/%s", ErrNacked, msgs[i].ID, exchange, routingKey)
			}
		}

		p.logger.Debug("published messages",
			"exchange", exchange,
			"routing_key", routingKey,
			"count", len(publishings),
		)
		return nil
	})
}

// PublishScheduleDue публикует пачку schedule.due.
// Потребитель: schedq-worker.
func (p *Publisher) PublishScheduleDue(ctx context.Context, items []domain.ClaimedItem, claimedAt time.Time) error {
	msgs := make([]*Message, len(items))
	for i, item := range items {
		msg, err := NewMessage(MessageTypeScheduleDue, NewScheduleDuePayload(item, claimedAt))
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return p.PublishBatch(ctx, ExchangeSchedules, RoutingKeyDue, msgs)
}

// ScheduleDispatcher публикует забранные пачки в schedules.due.
// Реализует scheduler.Dispatcher.
type ScheduleDispatcher struct {
	publisher *Publisher
	now       func() time.Time
}

// NewScheduleDispatcher создаёт ScheduleDispatcher.
func NewScheduleDispatcher(publisher *Publisher) *ScheduleDispatcher {
	return &ScheduleDispatcher{publisher: publisher, now: time.Now}
}

// Dispatch публикует items и ждёт ack брокера на каждое. Ошибка
// откатывает claim, так что доставка не реже одного раза: пачка может
// уйти повторно, но не потеряется.
func (d *ScheduleDispatcher) Dispatch(ctx context.Context, items []domain.ClaimedItem) error {
	if err := d.publisher.PublishScheduleDue(ctx, items, d.now()); err != nil {
		return err
	}
	telemetry.DispatchedItems.WithLabelValues("amqp").Add(float64(len(items)))
	return nil
}

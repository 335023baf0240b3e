package mq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/schedq/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfirmation struct {
	acked bool
	err   error
}

func (f fakeConfirmation) WaitContext(ctx context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.acked, nil
}

// fakeChannels запоминает публикации и отвечает на n-ю из confirms.
// Если confirms короче, остальные получают ack.
type fakeChannels struct {
	noChannel  bool
	publishErr error
	confirms   []fakeConfirmation

	keys      []string
	published []amqp.Publishing
}

func (f *fakeChannels) WithConfirmChannel(ctx context.Context, fn func(ch ConfirmChannel) error) error {
	if f.noChannel {
		return ErrNoChannel
	}
	return fn(f)
}

func (f *fakeChannels) PublishConfirmed(ctx context.Context, exchange, key string, msg amqp.Publishing) (Confirmation, error) {
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	i := len(f.published)
	f.keys = append(f.keys, exchange+"/"+key)
	f.published = append(f.published, msg)
	if i < len(f.confirms) {
		return f.confirms[i], nil
	}
	return fakeConfirmation{acked: true}, nil
}

func newTestDispatcher(channels *fakeChannels) *ScheduleDispatcher {
	d := NewScheduleDispatcher(&Publisher{
		channels: channels,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	d.now = func() time.Time { return time.Date(2024, 12, 5, 3, 0, 0, 0, time.UTC) }
	return d
}

func claimedItems(n int) []domain.ClaimedItem {
	items := make([]domain.ClaimedItem, n)
	for i := range items {
		items[i] = domain.ClaimedItem{WorkflowID: uuid.New(), ScheduleID: uuid.New()}
	}
	return items
}

func TestDispatch_WaitsForAcks(t *testing.T) {
	channels := &fakeChannels{}

	require.NoError(t, newTestDispatcher(channels).Dispatch(context.Background(), claimedItems(3)))

	require.Len(t, channels.published, 3)
	for i, msg := range channels.published {
		assert.Equal(t, "schedq.schedules/due", channels.keys[i])
		assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
		assert.Equal(t, string(MessageTypeScheduleDue), msg.Type)
		assert.NotEmpty(t, msg.MessageId)
	}
}

func TestDispatch_NackFailsBatch(t *testing.T) {
	channels := &fakeChannels{
		confirms: []fakeConfirmation{{acked: true}, {acked: false}},
	}

	err := newTestDispatcher(channels).Dispatch(context.Background(), claimedItems(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNacked)
	assert.Contains(t, err.Error(), channels.published[1].MessageId)
}

func TestDispatch_ConfirmWaitError(t *testing.T) {
	channels := &fakeChannels{
		confirms: []fakeConfirmation{{err: context.DeadlineExceeded}},
	}

	err := newTestDispatcher(channels).Dispatch(context.Background(), claimedItems(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatch_PublishError(t *testing.T) {
	closed := errors.New("channel/connection is not open")
	channels := &fakeChannels{publishErr: closed}

	err := newTestDispatcher(channels).Dispatch(context.Background(), claimedItems(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, closed)
	assert.Contains(t, err.Error(), "publish to schedq.schedules/due")
}

func TestDispatch_NoChannel(t *testing.T) {
	err := newTestDispatcher(&fakeChannels{noChannel: true}).Dispatch(context.Background(), claimedItems(1))
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestPublishBatch_Empty(t *testing.T) {
	channels := &fakeChannels{noChannel: true}
	p := &Publisher{channels: channels, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	require.NoError(t, p.PublishBatch(context.Background(), ExchangeSchedules, RoutingKeyDue, nil))
	assert.Empty(t, channels.published)
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/schedq/internal/domain"
	"github.com/shaiso/schedq/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClaimer отдаёт заранее заданные размеры пачек по очереди.
type fakeClaimer struct {
	mu     sync.Mutex
	sizes  []int
	err    error
	calls  int
	limits []int
	onCall func()
}

func (f *fakeClaimer) ClaimDueFunc(ctx context.Context, maxBatchSize int, now time.Time, fn repo.ClaimFunc) ([]domain.ClaimedItem, error) {
	f.mu.Lock()
	f.calls++
	f.limits = append(f.limits, maxBatchSize)
	n := 0
	if len(f.sizes) > 0 {
		n = f.sizes[0]
		f.sizes = f.sizes[1:]
	}
	err := f.err
	onCall := f.onCall
	f.mu.Unlock()

	if onCall != nil {
		onCall()
	}
	if err != nil {
		return nil, err
	}

	items := make([]domain.ClaimedItem, n)
	s := &domain.Schedule{ID: uuid.New(), UpdateInterval: time.Minute}
	for i := range items {
		items[i] = domain.ClaimedItem{WorkflowID: uuid.New(), ScheduleID: s.ID, Schedule: s}
	}
	if n > 0 && fn != nil {
		if err := fn(ctx, items); err != nil {
			return nil, fmt.Errorf("claim: %w: %w", repo.ErrClaimRejected, err)
		}
	}
	return items, nil
}

func (f *fakeClaimer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_TickDispatchesInsideClaim(t *testing.T) {
	claimer := &fakeClaimer{sizes: []int{3}}
	var got []domain.ClaimedItem

	s := New(Config{
		Claimer: claimer,
		Dispatcher: DispatcherFunc(func(ctx context.Context, items []domain.ClaimedItem) error {
			got = append(got, items...)
			return nil
		}),
		Logger:    discardLogger(),
		BatchSize: 10,
	})

	n, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, got, 3)
	assert.Equal(t, []int{10}, claimer.limits)
}

func TestScheduler_TickDispatchError(t *testing.T) {
	claimer := &fakeClaimer{sizes: []int{2}}
	boom := errors.New("broker down")

	s := New(Config{
		Claimer: claimer,
		Dispatcher: DispatcherFunc(func(context.Context, []domain.ClaimedItem) error {
			return boom
		}),
		Logger: discardLogger(),
	})

	n, err := s.Tick(context.Background())
	assert.Zero(t, n)
	assert.ErrorIs(t, err, repo.ErrClaimRejected)
	assert.ErrorIs(t, err, boom)
}

func TestScheduler_DrainsFullBatches(t *testing.T) {
	claimer := &fakeClaimer{sizes: []int{5, 5, 2, 5}}

	s := New(Config{
		Claimer:   claimer,
		Logger:    discardLogger(),
		BatchSize: 5,
	})

	s.drain(context.Background())

	assert.Equal(t, 3, claimer.callCount(), "stops after the first partial batch")
}

func TestScheduler_DrainStopsOnError(t *testing.T) {
	claimer := &fakeClaimer{sizes: []int{5, 5}, err: &repo.OpError{Op: "claim", Kind: repo.ErrTimeout}}

	s := New(Config{Claimer: claimer, Logger: discardLogger(), BatchSize: 5})
	s.drain(context.Background())

	assert.Equal(t, 1, claimer.callCount())
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	claimer := &fakeClaimer{}
	claimer.onCall = func() {
		if claimer.callCount() >= 3 {
			cancel()
		}
	}

	var statsCalls int
	s := New(Config{
		Claimer:  claimer,
		Logger:   discardLogger(),
		Interval: time.Millisecond,
		Stats: func() repo.PoolStats {
			statsCalls++
			return repo.PoolStats{Total: 2, Idle: 1, Acquired: 1, Max: 4}
		},
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.GreaterOrEqual(t, claimer.callCount(), 3)
	assert.Positive(t, statsCalls)
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{Claimer: &fakeClaimer{}})

	assert.Equal(t, 100, s.batchSize)
	assert.Equal(t, time.Second, s.interval)
	assert.IsType(t, LogDispatcher{}, s.dispatcher)
}

package outcome

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cortexgate/cortex/internal/model"
)

func TestSweeper_RunsAtLeastOneBatch(t *testing.T) {
	var sweeps atomic.Int32
	store := &countingStore{onExpired: func() { sweeps.Add(1) }}
	c := New(store, testLogger(), 30*time.Minute, nil)
	s := NewSweeper(c, testLogger(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer cancel()

	assert.Eventually(t, func() bool { return sweeps.Load() > 0 }, time.Second, 5*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
}

func TestSweeper_StartTwiceIsANoop(t *testing.T) {
	store := &countingStore{}
	c := New(store, testLogger(), 30*time.Minute, nil)
	s := NewSweeper(c, testLogger(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Start(ctx) // must not panic or spawn a second loop

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
}

type countingStore struct {
	fakeStore
	onExpired func()
}

func (c *countingStore) ExpiredPendingOutcomes(ctx context.Context, now time.Time) ([]model.PendingOutcome, error) {
	if c.onExpired != nil {
		c.onExpired()
	}
	return nil, nil
}

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTicker struct {
	ticks    atomic.Int32
	canceled atomic.Bool
}

func (c *countingTicker) Tick(ctx context.Context) {
	c.ticks.Add(1)
	if ctx.Err() != nil {
		c.canceled.Store(true)
	}
}

func TestSchedulerTicks(t *testing.T) {
	ticker := &countingTicker{}
	s, err := New(ticker, 10*time.Millisecond, clockwork.NewRealClock(), zerolog.Nop())
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return ticker.ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	stopped := ticker.ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, ticker.ticks.Load())
	assert.False(t, ticker.canceled.Load())
}

func TestSchedulerRejectsZeroInterval(t *testing.T) {
	_, err := New(&countingTicker{}, 0, clockwork.NewRealClock(), zerolog.Nop())
	assert.Error(t, err)
}

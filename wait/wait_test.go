package wait

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := Jitter(base, 2)
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, 3*base)
	}
}

func TestSleepWithJitterHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepWithJitter(ctx, time.Minute, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRepeatUntil(t *testing.T) {
	calls := 0
	err := RepeatUntil(context.Background(), time.Millisecond, func(ctx context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRepeatUntilPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := RepeatUntil(context.Background(), time.Millisecond, func(ctx context.Context) (bool, error) {
		return false, boom
	})
	require.ErrorIs(t, err, boom)
}

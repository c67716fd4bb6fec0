package whatsapp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdapter_NextDelay(t *testing.T) {
	t.Run("should stay within [min, max)", func(t *testing.T) {
		req := require.New(t)
		a := &Adapter{minDelay: time.Second, maxDelay: 3 * time.Second}

		for i := 0; i < 1000; i++ {
			d := a.nextDelay()
			req.GreaterOrEqual(d, time.Second)
			req.Less(d, 3*time.Second)
		}
	})

	t.Run("should use min when the range is empty", func(t *testing.T) {
		a := &Adapter{minDelay: 250 * time.Millisecond, maxDelay: 250 * time.Millisecond}
		require.Equal(t, 250*time.Millisecond, a.nextDelay())
	})
}

func TestSleepContext(t *testing.T) {
	t.Run("should wait the full duration", func(t *testing.T) {
		req := require.New(t)
		start := time.Now()

		req.NoError(sleepContext(context.Background(), 20*time.Millisecond))
		req.GreaterOrEqual(time.Since(start), 20*time.Millisecond)
	})

	t.Run("should return early on cancellation", func(t *testing.T) {
		req := require.New(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := sleepContext(ctx, time.Hour)
		req.ErrorIs(err, context.Canceled)
	})
}

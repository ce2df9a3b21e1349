package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/karthikpremaram/mills-new/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		Backoff:      2,
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return domain.Transient(errors.New("connection reset"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentFailsImmediately(t *testing.T) {
	calls := 0
	permanent := domain.Permanent(errors.New("bad input"))

	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	last := domain.Transient(errors.New("still down"))

	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		return last
	})

	assert.ErrorIs(t, err, last)
	assert.Equal(t, 3, calls)
}

func TestDo_BackoffRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := Policy{
		MaxAttempts:  3,
		InitialDelay: time.Hour,
		Backoff:      2,
	}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, func(context.Context) error {
			return domain.Transient(errors.New("flaky"))
		})
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
}

func TestDo_MaxDelayCapsBackoff(t *testing.T) {
	p := Policy{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Backoff:      10,
	}

	start := time.Now()
	calls := 0
	_ = Do(context.Background(), p, func(context.Context) error {
		calls++
		return domain.Transient(errors.New("down"))
	})

	assert.Equal(t, 4, calls)
	// 1ms + 2ms + 2ms of sleeping, far below the uncapped 1+10+100ms
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

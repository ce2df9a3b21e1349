package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/karthikpremaram/mills-new/internal/domain"
)

// Policy bounds the attempts of a fallible operation.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Backoff      float64
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.Backoff <= 1 {
		p.Backoff = 2
	}
	return p
}

// Do invokes op, retrying on errors classified transient with exponential
// backoff. Permanent errors propagate immediately without delay; the last
// error is returned once attempts are exhausted. The sleep is interruptible
// by ctx.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	delay := p.InitialDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !domain.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		slog.Warn("transient failure, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.MaxAttempts),
			slog.String("delay", delay.String()),
			slog.String("error", lastErr.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * p.Backoff)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return lastErr
}

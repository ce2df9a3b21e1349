package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/karthikpremaram/mills-new/internal/domain"
	"github.com/karthikpremaram/mills-new/internal/task"
)

// Event is one emission of a live status stream. Err is set only for the
// single terminal error event emitted when the store becomes unreadable.
type Event struct {
	Task domain.Task
	Err  error
}

// Streamer exposes task state as a snapshot and as a polling live stream.
// Polling is deliberate: terminal-state convergence is guaranteed within one
// interval after completion, so a change-notification channel would buy
// nothing observable at this scale.
type Streamer struct {
	tasks    *task.Manager
	interval time.Duration
}

func New(tasks *task.Manager, interval time.Duration) *Streamer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Streamer{tasks: tasks, interval: interval}
}

// Snapshot is a single read of the current record.
func (s *Streamer) Snapshot(ctx context.Context, id string) (domain.Task, error) {
	return s.tasks.Task(ctx, id)
}

// Stream verifies the task exists, then emits its record once per poll
// interval on the returned channel. The stream closes itself after emitting
// a terminal record, after a single error event if the store becomes
// unreadable, or when ctx is cancelled. Cancelling the stream does not
// cancel the task.
func (s *Streamer) Stream(ctx context.Context, id string) (<-chan Event, error) {
	t, err := s.tasks.Task(ctx, id)
	if err != nil {
		return nil, err
	}

	ch := make(chan Event, 1)
	go s.run(ctx, id, t, ch)
	return ch, nil
}

func (s *Streamer) run(ctx context.Context, id string, first domain.Task, ch chan<- Event) {
	defer close(ch)

	if !s.emit(ctx, ch, Event{Task: first}) {
		return
	}
	if first.State.Terminal() {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		t, err := s.tasks.Task(ctx, id)
		if err != nil {
			slog.Error("status stream read failed",
				slog.String("task_id", id),
				slog.String("error", err.Error()),
			)
			s.emit(ctx, ch, Event{Err: err})
			return
		}

		if !s.emit(ctx, ch, Event{Task: t}) {
			return
		}
		if t.State.Terminal() {
			return
		}
	}
}

func (s *Streamer) emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/karthikpremaram/mills-new/internal/domain"
	"github.com/karthikpremaram/mills-new/internal/stream"
	"github.com/karthikpremaram/mills-new/internal/task"
)

type TaskQueue interface {
	Enqueue(ctx context.Context, taskID string) error
}

type usecase struct {
	tasks    *task.Manager
	queue    TaskQueue
	streamer *stream.Streamer
}

func New(tasks *task.Manager, queue TaskQueue, streamer *stream.Streamer) *usecase {
	return &usecase{
		tasks:    tasks,
		queue:    queue,
		streamer: streamer,
	}
}

// Submit validates the request, creates (or dedups) the task record and
// enqueues it for a worker. Submission returns as soon as the id is
// enqueued; the pipeline runs out-of-band.
func (uc *usecase) Submit(ctx context.Context, input domain.TaskInput, idempotencyKey string) (domain.Task, error) {
	if !strings.HasPrefix(input.MainURL, "http://") && !strings.HasPrefix(input.MainURL, "https://") {
		return domain.Task{}, fmt.Errorf("%w: main_url must start with http:// or https://", domain.ErrInvalidInput)
	}

	t, created, err := uc.tasks.Create(ctx, input, idempotencyKey)
	if err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}

	if !created {
		slog.Debug("idempotent resubmission",
			slog.String("task_id", t.ID),
			slog.String("idempotency_key", idempotencyKey),
		)
		return t, nil
	}

	if err := uc.queue.Enqueue(ctx, t.ID); err != nil {
		slog.Error("enqueue failed",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()),
		)
		if serr := uc.tasks.SetError(ctx, t.ID, "could not enqueue task"); serr != nil {
			slog.Error("recording enqueue failure", slog.String("error", serr.Error()))
		}
		return domain.Task{}, fmt.Errorf("enqueue: %w", err)
	}

	return t, nil
}

func (uc *usecase) Status(ctx context.Context, taskID string) (domain.Task, error) {
	return uc.streamer.Snapshot(ctx, taskID)
}

// Cancel requests cancellation. Cancelling an already terminal task is a
// no-op; only unknown ids are an error.
func (uc *usecase) Cancel(ctx context.Context, taskID string) error {
	return uc.tasks.Cancel(ctx, taskID)
}

func (uc *usecase) Events(ctx context.Context, taskID string) (<-chan stream.Event, error) {
	return uc.streamer.Stream(ctx, taskID)
}

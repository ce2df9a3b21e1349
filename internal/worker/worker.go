package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/karthikpremaram/mills-new/internal/domain"
	"github.com/karthikpremaram/mills-new/internal/infra/queue"
	"github.com/karthikpremaram/mills-new/internal/pipeline"
	"github.com/karthikpremaram/mills-new/internal/retry"
	"github.com/karthikpremaram/mills-new/internal/task"

	"github.com/nats-io/nats.go"
)

const consumerName = "agent-creation-consumer"

// Pool pulls task ids from the queue and runs each task's pipeline under
// the retry executor. The whole pipeline is the retry unit: a transient
// failure on a late step re-runs from step one.
type Pool struct {
	js      nats.JetStreamContext
	subject string
	size    int

	tasks  *task.Manager
	runner *pipeline.Runner
	policy retry.Policy

	done chan struct{}
	sub  *nats.Subscription
}

func NewPool(
	js nats.JetStreamContext,
	subject string,
	size int,
	tasks *task.Manager,
	runner *pipeline.Runner,
	policy retry.Policy,
) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		js:      js,
		subject: subject,
		size:    size,
		tasks:   tasks,
		runner:  runner,
		policy:  policy,
		done:    make(chan struct{}, size),
	}
}

func (p *Pool) Run(ctx context.Context) error {
	_, err := p.js.AddConsumer(queue.StreamName, &nats.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     nats.AckExplicitPolicy,
		FilterSubject: p.subject,
		MaxAckPending: p.size * 2,
	})
	if err != nil && !errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		return err
	}

	sub, err := p.js.PullSubscribe(p.subject, consumerName)
	if err != nil {
		return err
	}
	p.sub = sub

	for i := 0; i < p.size; i++ {
		go func() {
			defer func() { p.done <- struct{}{} }()
			p.runWorker(ctx)
		}()
	}

	slog.Info("worker pool running",
		slog.Int("workers", p.size),
		slog.String("subject", p.subject),
	)
	return nil
}

func (p *Pool) Stop(ctx context.Context) {
	<-ctx.Done()

	for i := 0; i < p.size; i++ {
		<-p.done
	}

	if p.sub != nil {
		if err := p.sub.Drain(); err != nil {
			slog.Warn("NATS subscription drain", slog.String("error", err.Error()))
		}
	}

	slog.Info("worker pool stopped")
}

func (p *Pool) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := p.sub.Fetch(1, nats.Context(ctx))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			slog.Warn("NATS Fetch", slog.String("error", err.Error()))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, msg := range msgs {
			taskID := string(msg.Data)

			if err := p.process(ctx, taskID); err != nil {
				if errors.Is(err, domain.ErrStoreUnavailable) {
					// record unreadable, let the queue redeliver
					slog.Error("process",
						slog.String("task_id", taskID),
						slog.String("error", err.Error()),
					)
					_ = msg.Nak()
					continue
				}
				slog.Error("process",
					slog.String("task_id", taskID),
					slog.String("error", err.Error()),
				)
			}

			if err := msg.Ack(); err != nil {
				slog.Warn("NATS Ack", slog.String("error", err.Error()))
			}
		}
	}
}

// process runs one task to a terminal state. Any error left after the retry
// boundary is recorded on the task; the guarded SetError keeps an already
// terminal record untouched.
func (p *Pool) process(ctx context.Context, taskID string) error {
	t, err := p.tasks.Task(ctx, taskID)
	if err != nil {
		return err
	}

	if t.State.Terminal() {
		slog.Debug("skipping terminal task", slog.String("task_id", taskID))
		return nil
	}

	slog.Info("process start", slog.String("task_id", taskID))

	err = retry.Do(ctx, p.policy, func(ctx context.Context) error {
		return p.runner.Run(ctx, t)
	})
	if err != nil {
		if serr := p.tasks.SetError(ctx, taskID, err.Error()); serr != nil {
			slog.Error("recording failure",
				slog.String("task_id", taskID),
				slog.String("error", serr.Error()),
			)
		}
		return err
	}

	slog.Info("process done", slog.String("task_id", taskID))
	return nil
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

const StreamName = "AGENT_CREATION"

type Config struct {
	URL           string
	Name          string
	Subject       string
	MaxReconnects int
}

// Connect dials NATS and ensures the JetStream stream backing the task
// queue exists.
func Connect(cfg Config) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("JetStream: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{cfg.Subject},
		Storage:  nats.FileStorage,
		Replicas: 1,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, nil, fmt.Errorf("JetStream AddStream: %w", err)
	}

	return nc, js, nil
}

type queue struct {
	js      nats.JetStreamContext
	subject string
}

// New returns a task queue publishing task ids to a JetStream subject.
func New(js nats.JetStreamContext, subject string) *queue {
	return &queue{js: js, subject: subject}
}

func (q *queue) Enqueue(ctx context.Context, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("empty taskID")
	}

	ack, err := q.js.PublishMsg(&nats.Msg{
		Subject: q.subject,
		Data:    []byte(taskID),
		Header:  nats.Header{},
	})
	if err != nil {
		return fmt.Errorf("enqueue task %s: publish failed: %w", taskID, err)
	}

	slog.Debug("task enqueued",
		slog.String("task_id", taskID),
		slog.String("subject", q.subject),
		slog.String("stream", ack.Stream),
		slog.Uint64("seq", ack.Sequence),
	)

	return nil
}

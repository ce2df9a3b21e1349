package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karthikpremaram/mills-new/internal/domain"
	"github.com/karthikpremaram/mills-new/internal/infra/store/kv"

	"github.com/google/uuid"
)

// Manager owns every mutation of task records. All writes are
// read-modify-write against the store; a per-task mutex serializes writers
// inside this process (a progress update racing a cancel). Cross-process
// writes remain last-writer-wins, which the single-writer-per-task workload
// tolerates.
type Manager struct {
	store kv.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store kv.Store) *Manager {
	return &Manager{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

// Create allocates a task record in QUEUED at 0%. When idempotencyKey is
// already mapped the existing task is returned with created=false instead of
// creating a new record.
func (m *Manager) Create(ctx context.Context, input domain.TaskInput, idempotencyKey string) (domain.Task, bool, error) {
	if idempotencyKey != "" {
		existingID, err := m.store.Get(ctx, idempKey(idempotencyKey))
		if err == nil {
			t, terr := m.Task(ctx, string(existingID))
			if terr == nil {
				return t, false, nil
			}
			if !errors.Is(terr, domain.ErrTaskNotFound) {
				return domain.Task{}, false, terr
			}
			// dangling mapping, fall through and create anew
		} else if !errors.Is(err, domain.ErrKeyNotFound) {
			return domain.Task{}, false, err
		}
	}

	now := time.Now().UTC()
	t := domain.Task{
		ID:        "task_" + uuid.NewString(),
		State:     domain.StateQueued,
		Percent:   0,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.write(ctx, t); err != nil {
		return domain.Task{}, false, err
	}

	if idempotencyKey != "" {
		if err := m.store.Set(ctx, idempKey(idempotencyKey), []byte(t.ID)); err != nil {
			return domain.Task{}, false, err
		}
	}

	slog.Debug("task created", slog.String("task_id", t.ID))
	return t, true, nil
}

// Task reads the current record.
func (m *Manager) Task(ctx context.Context, id string) (domain.Task, error) {
	data, err := m.store.Get(ctx, taskKey(id))
	if errors.Is(err, domain.ErrKeyNotFound) {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}

	var t domain.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return domain.Task{}, fmt.Errorf("decode task %s: %w", id, err)
	}
	return t, nil
}

// UpdateProgress records the current step and percent. Percent is clamped to
// [0,100] and never decreases; reaching 100 transitions the record to
// SUCCESS. This is the sole success path. The first update against a QUEUED
// record moves it to RUNNING. Updates against a terminal record are ignored.
func (m *Manager) UpdateProgress(ctx context.Context, id, step string, percent int) error {
	return m.mutate(ctx, id, func(t *domain.Task) bool {
		if t.State.Terminal() {
			return false
		}

		if percent > 100 {
			percent = 100
		}
		if percent < 0 {
			percent = 0
		}
		// High-water mark: a retried pipeline restarts at step one, but
		// observers must never see percent regress.
		if percent > t.Percent {
			t.Percent = percent
		}

		t.CurrentStep = step
		if t.State == domain.StateQueued {
			t.State = domain.StateRunning
		}
		if t.Percent >= 100 {
			t.State = domain.StateSuccess
		}
		return true
	})
}

// SetResult stages the success payload before the final progress update.
// Refused once the record is terminal or carries an error.
func (m *Manager) SetResult(ctx context.Context, id, result string) error {
	return m.mutate(ctx, id, func(t *domain.Task) bool {
		if t.State.Terminal() || t.ErrorMessage != "" {
			return false
		}
		t.Result = result
		return true
	})
}

// SetError moves the record to FAILED with a message. A no-op once terminal:
// it must not resurrect a SUCCESS or CANCELLED record.
func (m *Manager) SetError(ctx context.Context, id, message string) error {
	return m.mutate(ctx, id, func(t *domain.Task) bool {
		if t.State.Terminal() {
			return false
		}
		t.State = domain.StateFailed
		t.ErrorMessage = message
		t.Result = ""
		return true
	})
}

// Cancel records cancellation intent. Only QUEUED or RUNNING records move to
// CANCELLED; cancelling a terminal record is a no-op, not an error.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	return m.mutate(ctx, id, func(t *domain.Task) bool {
		if t.State != domain.StateQueued && t.State != domain.StateRunning {
			return false
		}
		t.State = domain.StateCancelled
		return true
	})
}

// Cancelled reports whether cancellation has been requested for the task.
func (m *Manager) Cancelled(ctx context.Context, id string) (bool, error) {
	t, err := m.Task(ctx, id)
	if err != nil {
		return false, err
	}
	return t.State == domain.StateCancelled, nil
}

func (m *Manager) mutate(ctx context.Context, id string, apply func(*domain.Task) bool) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	t, err := m.Task(ctx, id)
	if err != nil {
		return err
	}

	if !apply(&t) {
		return nil
	}

	t.UpdatedAt = time.Now().UTC()
	return m.write(ctx, t)
}

func (m *Manager) write(ctx context.Context, t domain.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	return m.store.Set(ctx, taskKey(t.ID), data)
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func taskKey(id string) string {
	return "task:" + id
}

func idempKey(k string) string {
	return "idempotency:" + k
}

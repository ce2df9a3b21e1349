package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/karthikpremaram/mills-new/internal/domain"
	"github.com/karthikpremaram/mills-new/internal/task"
)

// StepDef couples a weighted step descriptor with its work. The step
// receives the shared Job and may call Job.Report to publish fractional
// progress inside its own weight band.
type StepDef struct {
	domain.Step
	Run func(ctx context.Context, job *Job) error
}

// Job is the scratch state one pipeline run threads through its steps.
// Collaborator outputs are carried here explicitly instead of any
// process-global registry, so concurrent tasks stay independent.
type Job struct {
	Task domain.Task

	Pages         map[string]string
	SystemPrompt  string
	KnowledgeBase string
	KBDescription string
	AssistantID   string
	FileID        string

	// Result becomes the task's result payload on success.
	Result string

	report func(frac float64)
}

// Report publishes progress within the running step's weight band.
// frac is in [0,1].
func (j *Job) Report(frac float64) {
	if j.report != nil {
		j.report(frac)
	}
}

// Runner drives an ordered list of weighted steps against one task. It never
// writes the store directly; every mutation goes through the task manager.
type Runner struct {
	tasks *task.Manager
	steps []StepDef
}

func NewRunner(tasks *task.Manager, steps []StepDef) *Runner {
	return &Runner{tasks: tasks, steps: steps}
}

// Run executes the pipeline for t. Steps run strictly in declared order;
// cancellation is checked between steps and turns the remainder into a
// no-op. A permanently failing step records the failure and propagates; a
// transient error propagates untouched so the caller's retry boundary can
// re-run the whole pipeline from step one.
func (r *Runner) Run(ctx context.Context, t domain.Task) error {
	logger := slog.With(slog.String("task_id", t.ID))

	job := &Job{Task: t}
	done := 0

	for _, s := range r.steps {
		cancelled, err := r.tasks.Cancelled(ctx, t.ID)
		if err != nil {
			return err
		}
		if cancelled {
			logger.Info("cancellation observed, abandoning pipeline",
				slog.String("next_step", s.Name))
			return nil
		}

		logger.Info("step start", slog.String("step", s.Name), slog.Int("percent", done))
		if err := r.tasks.UpdateProgress(ctx, t.ID, s.Name, capRunning(done)); err != nil {
			return err
		}

		base, weight := done, s.Weight
		job.report = func(frac float64) {
			if frac < 0 {
				frac = 0
			}
			if frac > 1 {
				frac = 1
			}
			pct := base + int(frac*float64(weight))
			if err := r.tasks.UpdateProgress(ctx, t.ID, s.Name, capRunning(pct)); err != nil {
				logger.Warn("progress update failed",
					slog.String("step", s.Name),
					slog.String("error", err.Error()),
				)
			}
		}

		if err := s.Run(ctx, job); err != nil {
			if domain.IsTransient(err) {
				logger.Warn("step failed, transient",
					slog.String("step", s.Name),
					slog.String("error", err.Error()),
				)
				return err
			}

			msg := fmt.Sprintf("step %s: %v", s.Name, err)
			logger.Error("step failed", slog.String("step", s.Name), slog.String("error", err.Error()))
			if serr := r.tasks.SetError(ctx, t.ID, msg); serr != nil {
				logger.Error("recording failure", slog.String("error", serr.Error()))
			}
			return err
		}

		done += s.Weight
		if err := r.tasks.UpdateProgress(ctx, t.ID, s.Name, capRunning(done)); err != nil {
			return err
		}
	}

	if job.Result != "" {
		if err := r.tasks.SetResult(ctx, t.ID, job.Result); err != nil {
			return err
		}
	}

	// Reaching 100 is the success signal, so only this final report may hit
	// it. This also terminates pipelines whose weights do not sum to 100,
	// including the empty one.
	last := "complete"
	if n := len(r.steps); n > 0 {
		last = r.steps[n-1].Name
	}
	if err := r.tasks.UpdateProgress(ctx, t.ID, last, 100); err != nil {
		return err
	}

	logger.Info("pipeline complete")
	return nil
}

// capRunning keeps in-flight reports below the success threshold even when
// step weights sum past 100.
func capRunning(pct int) int {
	if pct > 99 {
		return 99
	}
	return pct
}

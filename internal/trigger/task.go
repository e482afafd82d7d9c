// Package trigger runs a configured comparison on demand or on an interval,
// logs the outcome and reports it to the configured sinks.
package trigger

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"visualdiff/internal/core/domain"
	"visualdiff/internal/core/errs"
	"visualdiff/internal/core/ports"
)

// Jobs is the part of the orchestrator a Task drives.
type Jobs interface {
	CreateJob(ctx context.Context, spec domain.JobSpec) (string, error)
	ExecuteJob(ctx context.Context, jobID string) ([]domain.PageResult, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
}

// Task creates and executes one job per run.
type Task struct {
	jobs     Jobs
	spec     domain.JobSpec
	notifier ports.Notifier
	logger   *log.Logger
}

// NewTask creates a Task. notifier may be nil.
func NewTask(jobs Jobs, spec domain.JobSpec, notifier ports.Notifier, logger *log.Logger) *Task {
	if logger == nil {
		logger = log.Default()
	}
	return &Task{jobs: jobs, spec: spec, notifier: notifier, logger: logger}
}

// Run validates the spec, creates a job, executes it and delivers the
// summary. A delivery failure is returned together with the summary; the job
// itself is complete at that point.
func (t *Task) Run(ctx context.Context) (domain.Summary, error) {
	if err := t.spec.Validate(); err != nil {
		return domain.Summary{}, errs.Wrap(errs.CodeInvalidInput, err, "invalid job")
	}

	id, err := t.jobs.CreateJob(ctx, t.spec)
	if err != nil {
		return domain.Summary{}, err
	}
	if _, err := t.jobs.ExecuteJob(ctx, id); err != nil {
		return domain.Summary{}, err
	}
	job, err := t.jobs.GetJob(ctx, id)
	if err != nil {
		return domain.Summary{}, err
	}

	s := domain.Summarize(job)
	t.logger.Infof("Visual diff job %s completed: %d pages compared, %d with differences",
		s.JobID, s.Compared, s.IssueCount)

	if t.notifier != nil {
		if err := t.notifier.Notify(ctx, s); err != nil {
			t.logger.Warn("report delivery failed", "job", s.JobID, "error", err)
			return s, err
		}
	}
	return s, nil
}

// Schedule runs the task immediately and then every interval until ctx is
// cancelled. Failed runs are logged and do not stop the schedule.
func (t *Task) Schedule(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errs.New(errs.CodeInvalidInput, "schedule interval must be positive, got %s", interval)
	}
	t.logger.Info("schedule started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := t.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.logger.Error("scheduled run failed", "error", err)
		}
		select {
		case <-ctx.Done():
			t.logger.Info("schedule stopped")
			return nil
		case <-ticker.C:
		}
	}
}

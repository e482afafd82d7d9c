// Package notify delivers job summaries to log, webhook and Redis sinks.
package notify

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"visualdiff/internal/core/domain"
	"visualdiff/internal/core/errs"
	"visualdiff/internal/core/ports"
)

// Log writes one warning per flagged page.
type Log struct {
	logger *log.Logger
}

// NewLog creates a Log notifier. A nil logger uses the default logger.
func NewLog(logger *log.Logger) *Log {
	if logger == nil {
		logger = log.Default()
	}
	return &Log{logger: logger}
}

// Notify implements ports.Notifier.
func (l *Log) Notify(ctx context.Context, s domain.Summary) error {
	for _, issue := range s.Issues {
		if issue.Failed() {
			l.logger.Warn("page failed", "job", s.JobID, "path", issue.Path, "error", issue.Error)
			continue
		}
		l.logger.Warn("page differs",
			"job", s.JobID,
			"path", issue.Path,
			"difference", issue.DifferencePercentage,
			"threshold", s.Threshold,
			"diff", issue.DiffImagePath)
	}
	return nil
}

// Close implements ports.Notifier.
func (l *Log) Close() error { return nil }

// Multi fans a summary out to every sink. All sinks are attempted even when
// one fails.
type Multi []ports.Notifier

// Notify implements ports.Notifier.
func (m Multi) Notify(ctx context.Context, s domain.Summary) error {
	var failed []error
	for _, n := range m {
		if err := n.Notify(ctx, s); err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return errs.Wrap(errs.CodeNotify, errors.Join(failed...), "failed to deliver report for %s", s.JobID)
	}
	return nil
}

// Close implements ports.Notifier.
func (m Multi) Close() error {
	var failed []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			failed = append(failed, err)
		}
	}
	return errors.Join(failed...)
}

var (
	_ ports.Notifier = (*Log)(nil)
	_ ports.Notifier = Multi(nil)
	_ ports.Notifier = (*Webhook)(nil)
	_ ports.Notifier = (*Redis)(nil)
)

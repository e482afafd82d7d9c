package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"visualdiff/internal/core/domain"
	"visualdiff/internal/core/errs"
	"visualdiff/internal/core/ports"
)

// Observer receives timing and outcome events, e.g. for metrics.
type Observer interface {
	PageCompared(result domain.PageResult, elapsed time.Duration)
	JobCompleted(job *domain.Job, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) PageCompared(domain.PageResult, time.Duration) {}
func (nopObserver) JobCompleted(*domain.Job, time.Duration)       {}

// Orchestrator coordinates the comparison workflow.
type Orchestrator struct {
	renderer    ports.Renderer
	comparator  ports.Comparator
	storage     ports.JobStore
	logger      *log.Logger
	renderOpts  ports.RenderOptions
	concurrency int
	observer    Observer
	now         func() time.Time

	mu        sync.Mutex
	executing map[string]struct{}
}

// ErrExecuting is returned when a job is executed while another execution of
// it is still in progress in this process.
var ErrExecuting = errors.New("job is already executing")

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRenderOptions sets the options passed to every render.
func WithRenderOptions(opts ports.RenderOptions) Option {
	return func(o *Orchestrator) { o.renderOpts = opts }
}

// WithConcurrency sets how many pages are processed at once. Values below 1
// mean sequential processing.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// WithObserver registers an observer for page and job events.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	renderer ports.Renderer,
	comparator ports.Comparator,
	storage ports.JobStore,
	logger *log.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	o := &Orchestrator{
		renderer:    renderer,
		comparator:  comparator,
		storage:     storage,
		logger:      logger,
		concurrency: 1,
		observer:    nopObserver{},
		now:         time.Now,
		executing:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateJob validates spec, persists a pending job and returns its id.
func (o *Orchestrator) CreateJob(ctx context.Context, spec domain.JobSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", errs.Wrap(errs.CodeInvalidInput, err, "invalid job")
	}

	job := domain.NewJob(spec, o.now())
	if err := o.storage.SaveJob(ctx, job); err != nil {
		return "", fmt.Errorf("save job %s: %w", job.ID, err)
	}

	o.logger.Info("job created", "job", job.ID, "pages", len(job.Pages), "threshold", job.Threshold)
	return job.ID, nil
}

// GetJob loads a job or fails with JOB_NOT_FOUND.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.storage.LoadJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job == nil {
		return nil, errs.New(errs.CodeJobNotFound, "job not found: %s", jobID)
	}
	return job, nil
}

// ListJobs returns every stored job ordered by id.
func (o *Orchestrator) ListJobs(ctx context.Context) ([]*domain.Job, error) {
	return o.storage.ListJobs(ctx)
}

// ExecuteJob runs every page of a job and returns the results in page order.
//
// The job is persisted as running before the first page and as completed
// after the last one. Page failures are recorded on the page and never abort
// the job. If ctx is cancelled the job is left in its running checkpoint and
// must be executed again from the start. Only one execution per job runs at a
// time; a concurrent call fails with JOB_STATE and ErrExecuting.
func (o *Orchestrator) ExecuteJob(ctx context.Context, jobID string) ([]domain.PageResult, error) {
	release, ok := o.claim(jobID)
	if !ok {
		return nil, errs.Wrap(errs.CodeJobState, ErrExecuting, "cannot execute job %s", jobID)
	}
	defer release()

	job, err := o.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With("job", jobID)

	if err := job.Start(); err != nil {
		return nil, errs.Wrap(errs.CodeJobState, err, "cannot execute job %s", jobID)
	}
	if err := o.storage.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save job %s: %w", jobID, err)
	}
	logger.Info("job running", "pages", len(job.Pages), "concurrency", max(o.concurrency, 1))

	start := time.Now()
	results, err := o.comparePages(ctx, job)
	if err != nil {
		logger.Warn("job interrupted", "error", err)
		return nil, err
	}

	if err := job.Complete(results, o.now()); err != nil {
		return nil, errs.Wrap(errs.CodeJobState, err, "cannot complete job %s", jobID)
	}
	if err := o.storage.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save job %s: %w", jobID, err)
	}

	elapsed := time.Since(start)
	o.observer.JobCompleted(job, elapsed)
	logger.Info("job completed",
		"compared", len(results),
		"issues", len(job.Issues()),
		"duration", elapsed.Round(time.Millisecond))
	return results, nil
}

// Executing reports whether jobID is being executed by this process.
func (o *Orchestrator) Executing(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.executing[jobID]
	return ok
}

func (o *Orchestrator) claim(jobID string) (func(), bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.executing[jobID]; busy {
		return nil, false
	}
	o.executing[jobID] = struct{}{}
	return func() {
		o.mu.Lock()
		delete(o.executing, jobID)
		o.mu.Unlock()
	}, true
}

// GetJobIssues returns the flagged results of a job in page order.
func (o *Orchestrator) GetJobIssues(ctx context.Context, jobID string) ([]domain.PageResult, error) {
	job, err := o.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job.Issues(), nil
}

// PruneJobs deletes all but the newest keep jobs and returns the deleted ids.
// Running jobs are never deleted.
func (o *Orchestrator) PruneJobs(ctx context.Context, keep int) ([]string, error) {
	if keep < 0 {
		return nil, errs.New(errs.CodeInvalidInput, "keep must not be negative")
	}
	jobs, err := o.storage.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	deleted := []string{}
	for i := 0; i < len(jobs)-keep; i++ {
		job := jobs[i]
		if job.Status == domain.StatusRunning || o.Executing(job.ID) {
			continue
		}
		if err := o.storage.DeleteJob(ctx, job.ID); err != nil {
			return deleted, err
		}
		deleted = append(deleted, job.ID)
	}
	if len(deleted) > 0 {
		o.logger.Info("pruned jobs", "deleted", len(deleted), "kept", keep)
	}
	return deleted, nil
}

func (o *Orchestrator) comparePages(ctx context.Context, job *domain.Job) ([]domain.PageResult, error) {
	results := make([]domain.PageResult, len(job.Pages))

	if o.concurrency <= 1 {
		for i, page := range job.Pages {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results[i] = o.compareURL(ctx, job, page)
		}
	} else if err := o.compareConcurrently(ctx, job, results); err != nil {
		return nil, err
	}

	// Captures taken while ctx was being cancelled are not trustworthy.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (o *Orchestrator) compareConcurrently(ctx context.Context, job *domain.Job, results []domain.PageResult) error {
	// Pages whose artifacts share a file name are serialised so no two
	// renders write the same path.
	var locks keyedMutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, page := range job.Pages {
		i, page := i, page
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			unlock := locks.lock(o.storage.DiffImagePath(job.ID, page))
			defer unlock()
			results[i] = o.compareURL(gctx, job, page)
			return nil
		})
	}
	return g.Wait()
}

// compareURL renders one page on both bases and diffs the captures.
func (o *Orchestrator) compareURL(ctx context.Context, job *domain.Job, page string) domain.PageResult {
	start := time.Now()
	out := o.runPage(ctx, job, page)
	result := out.result(page, job.Threshold)
	elapsed := time.Since(start)

	o.observer.PageCompared(result, elapsed)
	if result.Failed() {
		o.logger.Warn("page failed", "job", job.ID, "path", page, "error", result.Error)
	} else {
		o.logger.Debug("page compared",
			"job", job.ID,
			"path", page,
			"difference", fmt.Sprintf("%.4f%%", result.DifferencePercentage),
			"flagged", result.HasDifference,
			"duration", elapsed.Round(time.Millisecond))
	}
	return result
}

// pageOutcome is what rendering and diffing produced for one page, before
// the threshold policy is applied.
type pageOutcome struct {
	urlA, urlB     string
	imageA, imageB string
	diffImage      string
	percentage     float64
	err            error
}

func (o *Orchestrator) runPage(ctx context.Context, job *domain.Job, page string) pageOutcome {
	out := pageOutcome{
		urlA:      domain.JoinURL(job.BaseURLA, page),
		urlB:      domain.JoinURL(job.BaseURLB, page),
		imageA:    o.storage.ImagePath(job.ID, page, domain.SideA),
		imageB:    o.storage.ImagePath(job.ID, page, domain.SideB),
		diffImage: o.storage.DiffImagePath(job.ID, page),
	}

	if err := o.renderer.Render(ctx, out.urlA, out.imageA, o.renderOpts); err != nil {
		out.err = fmt.Errorf("render A: %w", err)
		return out
	}
	if err := o.renderer.Render(ctx, out.urlB, out.imageB, o.renderOpts); err != nil {
		out.err = fmt.Errorf("render B: %w", err)
		return out
	}

	pct, err := o.comparator.Compare(out.imageA, out.imageB, out.diffImage)
	if err != nil {
		out.err = fmt.Errorf("compare: %w", err)
		return out
	}
	out.percentage = pct
	return out
}

func (p pageOutcome) result(path string, threshold float64) domain.PageResult {
	r := domain.PageResult{Path: path, URLA: p.urlA, URLB: p.urlB}
	if p.err != nil {
		// A page that cannot be rendered or compared counts as a regression.
		r.Error = p.err.Error()
		r.HasDifference = true
		return r
	}
	r.DifferencePercentage = p.percentage
	r.HasDifference = p.percentage >= threshold
	r.ImagePathA = p.imageA
	r.ImagePathB = p.imageB
	r.DiffImagePath = p.diffImage
	return r
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// IsNotFound reports whether err means the requested job does not exist.
func IsNotFound(err error) bool {
	return errs.Is(err, errs.CodeJobNotFound)
}

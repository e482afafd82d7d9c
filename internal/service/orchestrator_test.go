package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visualdiff/internal/adapters/localstorage"
	"visualdiff/internal/core/domain"
	"visualdiff/internal/core/errs"
	"visualdiff/internal/fakes"
)

type harness struct {
	orch       *Orchestrator
	store      *localstorage.LocalStorage
	renderer   *fakes.Renderer
	comparator *fakes.Comparator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:      localstorage.NewLocalStorage(t.TempDir()),
		renderer:   &fakes.Renderer{},
		comparator: &fakes.Comparator{Percentages: map[string]float64{}},
	}
	h.orch = NewOrchestrator(h.renderer, h.comparator, h.store, log.New(io.Discard), opts...)
	return h
}

func spec(pages ...string) domain.JobSpec {
	return domain.JobSpec{
		BaseURLA:  "https://example.com",
		BaseURLB:  "https://staging.example.com",
		Pages:     pages,
		Threshold: 1.0,
	}
}

func TestCreateJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.orch.CreateJob(ctx, spec("/", "/about"))
	require.NoError(t, err)
	assert.True(t, domain.ValidJobID(id))

	job, err := h.orch.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Equal(t, []string{"/", "/about"}, job.Pages)
	assert.Nil(t, job.CompletedAt)
	assert.Empty(t, job.Results)
	assert.Empty(t, h.renderer.Calls(), "creating a job renders nothing")
}

func TestCreateJobInvalid(t *testing.T) {
	h := newHarness(t)

	s := spec("/")
	s.Threshold = 150
	_, err := h.orch.CreateJob(context.Background(), s)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeInvalidInput))

	jobs, err := h.orch.ListJobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs, "nothing is persisted for invalid input")
}

func TestExecuteJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.comparator.Percentages["about"] = 4.2

	id, err := h.orch.CreateJob(ctx, spec("/", "/about"))
	require.NoError(t, err)

	results, err := h.orch.ExecuteJob(ctx, id)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "/", results[0].Path)
	assert.Equal(t, "https://example.com/", results[0].URLA)
	assert.Equal(t, "https://staging.example.com/", results[0].URLB)
	assert.Zero(t, results[0].DifferencePercentage)
	assert.False(t, results[0].HasDifference)
	assert.Equal(t, h.store.ImagePath(id, "/", domain.SideA), results[0].ImagePathA)
	assert.Equal(t, h.store.ImagePath(id, "/", domain.SideB), results[0].ImagePathB)
	assert.Equal(t, h.store.DiffImagePath(id, "/"), results[0].DiffImagePath)

	assert.Equal(t, "/about", results[1].Path)
	assert.Equal(t, "https://example.com/about", results[1].URLA)
	assert.InDelta(t, 4.2, results[1].DifferencePercentage, 1e-9)
	assert.True(t, results[1].HasDifference)
	assert.FileExists(t, results[1].DiffImagePath)

	assert.Equal(t, []string{
		"https://example.com/",
		"https://staging.example.com/",
		"https://example.com/about",
		"https://staging.example.com/about",
	}, h.renderer.Calls())

	job, err := h.orch.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.False(t, job.CompletedAt.Before(job.CreatedAt))
	assert.Equal(t, results, job.Results)
}

func TestExecuteJobThresholdBoundary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.comparator.Percentages["equal"] = 1.0
	h.comparator.Percentages["below"] = 0.99

	id, err := h.orch.CreateJob(ctx, spec("/equal", "/below"))
	require.NoError(t, err)
	results, err := h.orch.ExecuteJob(ctx, id)
	require.NoError(t, err)

	assert.True(t, results[0].HasDifference, "equal to threshold is flagged")
	assert.False(t, results[1].HasDifference)
}

func TestExecuteJobThresholdZero(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s := spec("/")
	s.Threshold = 0
	id, err := h.orch.CreateJob(ctx, s)
	require.NoError(t, err)
	results, err := h.orch.ExecuteJob(ctx, id)
	require.NoError(t, err)
	assert.True(t, results[0].HasDifference, "threshold 0 flags every page")
}

func TestExecuteJobRenderFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.renderer.Fail = map[string]error{
		"https://staging.example.com/about": errs.New(errs.CodeRender, "connection refused"),
	}

	id, err := h.orch.CreateJob(ctx, spec("/", "/about", "/contact"))
	require.NoError(t, err)
	results, err := h.orch.ExecuteJob(ctx, id)
	require.NoError(t, err, "page failures do not fail the job")
	require.Len(t, results, 3)

	failed := results[1]
	assert.True(t, failed.HasDifference)
	assert.Zero(t, failed.DifferencePercentage)
	assert.Contains(t, failed.Error, "render B")
	assert.Contains(t, failed.Error, "connection refused")
	assert.Empty(t, failed.ImagePathA)
	assert.Empty(t, failed.DiffImagePath)

	assert.False(t, results[0].HasDifference)
	assert.False(t, results[2].HasDifference)
	assert.Empty(t, results[2].Error)

	job, err := h.orch.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
}

func TestExecuteJobCompareFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.comparator.Fail = map[string]error{"index": errs.New(errs.CodeComparison, "corrupt png")}

	id, err := h.orch.CreateJob(ctx, spec("/"))
	require.NoError(t, err)
	results, err := h.orch.ExecuteJob(ctx, id)
	require.NoError(t, err)

	assert.True(t, results[0].HasDifference)
	assert.Contains(t, results[0].Error, "compare")
	assert.Contains(t, results[0].Error, "corrupt png")
}

func TestExecuteJobNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.ExecuteJob(context.Background(), "job-20250101000000-00000000")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Empty(t, h.renderer.Calls())
}

func TestExecuteCompletedJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.orch.CreateJob(ctx, spec("/"))
	require.NoError(t, err)
	_, err = h.orch.ExecuteJob(ctx, id)
	require.NoError(t, err)

	_, err = h.orch.ExecuteJob(ctx, id)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeJobState))
	assert.ErrorIs(t, err, domain.ErrAlreadyCompleted)
	assert.Len(t, h.renderer.Calls(), 2, "a completed job is not re-rendered")
}

func TestExecuteJobCancelled(t *testing.T) {
	h := newHarness(t)

	id, err := h.orch.CreateJob(context.Background(), spec("/", "/about"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.orch.ExecuteJob(ctx, id)
	require.ErrorIs(t, err, context.Canceled)

	job, err := h.orch.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, job.Status, "an interrupted job stays running")

	// A running job is executed again from the start.
	results, err := h.orch.ExecuteJob(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestExecuteJobRejectsConcurrentExecution(t *testing.T) {
	h := newHarness(t)
	h.renderer.Gate = make(chan struct{})
	ctx := context.Background()

	id, err := h.orch.CreateJob(ctx, spec("/"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.ExecuteJob(ctx, id)
		done <- err
	}()
	require.Eventually(t, func() bool { return len(h.renderer.Calls()) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, h.orch.Executing(id))

	_, err = h.orch.ExecuteJob(ctx, id)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeJobState))
	assert.ErrorIs(t, err, ErrExecuting)

	close(h.renderer.Gate)
	require.NoError(t, <-done)
	assert.False(t, h.orch.Executing(id))
	assert.Len(t, h.renderer.Calls(), 2, "only the first execution rendered")

	job, err := h.orch.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
}

func TestGetJobIssues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.comparator.Percentages["about"] = 3
	h.renderer.Fail = map[string]error{"https://example.com/broken": errors.New("boom")}

	id, err := h.orch.CreateJob(ctx, spec("/", "/about", "/broken"))
	require.NoError(t, err)

	issues, err := h.orch.GetJobIssues(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, issues, "a pending job has no issues")

	_, err = h.orch.ExecuteJob(ctx, id)
	require.NoError(t, err)

	issues, err = h.orch.GetJobIssues(ctx, id)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "/about", issues[0].Path)
	assert.Equal(t, "/broken", issues[1].Path)
	assert.Contains(t, issues[1].Error, "render A")

	_, err = h.orch.GetJobIssues(ctx, "job-20250101000000-ffffffff")
	assert.True(t, IsNotFound(err))
}

func TestExecuteJobTrailingSlashBase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s := spec("/", "/about")
	s.BaseURLA = "https://example.com/"
	s.BaseURLB = "https://staging.example.com/"
	id, err := h.orch.CreateJob(ctx, s)
	require.NoError(t, err)

	results, err := h.orch.ExecuteJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", results[0].URLA)
	assert.Equal(t, "https://staging.example.com/about", results[1].URLB)
	assert.FileExists(t, h.store.ImagePath(id, "/", domain.SideA))
	assert.FileExists(t, h.store.ImagePath(id, "/about", domain.SideB))
	assert.Equal(t, "index.png", filepath.Base(results[0].ImagePathA))
	assert.Equal(t, "about.png", filepath.Base(results[1].DiffImagePath))
}

func TestExecuteJobConcurrent(t *testing.T) {
	obs := &recordingObserver{}
	h := newHarness(t, WithConcurrency(4), WithObserver(obs))
	ctx := context.Background()

	pages := []string{"/", "/a", "/b", "/c", "/d", "/e", "/f", "/a.", "/g"}
	for i, p := range pages {
		h.comparator.Percentages[localstorage.SanitizeName(p)] = float64(i)
	}

	id, err := h.orch.CreateJob(ctx, spec(pages...))
	require.NoError(t, err)
	results, err := h.orch.ExecuteJob(ctx, id)
	require.NoError(t, err)

	require.Len(t, results, len(pages))
	for i, p := range pages {
		assert.Equal(t, p, results[i].Path, "results keep page order")
	}
	assert.Len(t, h.renderer.Calls(), 2*len(pages))
	assert.Equal(t, len(pages), obs.pageCount())
	assert.Equal(t, 1, obs.jobCount())
}

func TestPruneJobs(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		id, err := h.orch.CreateJob(ctx, spec("/"))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	// The oldest job is mid-run and must survive.
	running, err := h.orch.GetJob(ctx, ids[0])
	require.NoError(t, err)
	require.NoError(t, running.Start())
	require.NoError(t, h.store.SaveJob(ctx, running))

	deleted, err := h.orch.PruneJobs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1], ids[2]}, deleted)

	jobs, err := h.orch.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, ids[0], jobs[0].ID)
	assert.Equal(t, ids[3], jobs[1].ID)

	_, err = h.orch.PruneJobs(ctx, -1)
	assert.True(t, errs.Is(err, errs.CodeInvalidInput))
}

type recordingObserver struct {
	mu    sync.Mutex
	pages int
	jobs  int
}

func (r *recordingObserver) PageCompared(domain.PageResult, time.Duration) {
	r.mu.Lock()
	r.pages++
	r.mu.Unlock()
}

func (r *recordingObserver) JobCompleted(*domain.Job, time.Duration) {
	r.mu.Lock()
	r.jobs++
	r.mu.Unlock()
}

func (r *recordingObserver) pageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pages
}

func (r *recordingObserver) jobCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs
}

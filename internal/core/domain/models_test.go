package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobID(t *testing.T) {
	now := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	id := NewJobID(now)

	assert.Regexp(t, `^job-20250314150926-[0-9a-f]{8}$`, id)
	assert.True(t, ValidJobID(id))
	assert.NotEqual(t, id, NewJobID(now), "suffix should be random")
}

func TestValidJobID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"job-20250314150926-0a1b2c3d", true},
		{"job-20250314150926-0A1B2C3D", false},
		{"job-2025031415092-0a1b2c3d", false},
		{"job-20250314150926-0a1b2c3", false},
		{"../job-20250314150926-0a1b2c3d", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidJobID(tt.id), tt.id)
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"https://a.test", "/about", "https://a.test/about"},
		{"https://a.test/", "/about", "https://a.test/about"},
		{"https://a.test//", "about", "https://a.test/about"},
		{"https://a.test", "about/team", "https://a.test/about/team"},
		{"https://a.test/", "/", "https://a.test/"},
		{"https://a.test/sub", "//deep/", "https://a.test/sub/deep/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, JoinURL(tt.base, tt.path), "%s + %s", tt.base, tt.path)
	}
}

func TestJobSpecValidate(t *testing.T) {
	valid := JobSpec{
		BaseURLA:  "https://example.com",
		BaseURLB:  "https://staging.example.com",
		Pages:     []string{"/", "/about"},
		Threshold: 1.0,
	}
	require.NoError(t, valid.Validate())

	for _, th := range []float64{0, 100} {
		s := valid
		s.Threshold = th
		assert.NoError(t, s.Validate(), "threshold %v", th)
	}

	tests := []struct {
		name   string
		mutate func(*JobSpec)
		msg    string
	}{
		{"missing A", func(s *JobSpec) { s.BaseURLA = "" }, "base URL A is required"},
		{"missing B", func(s *JobSpec) { s.BaseURLB = " " }, "base URL B is required"},
		{"relative A", func(s *JobSpec) { s.BaseURLA = "example.com" }, "absolute http(s) URL"},
		{"no pages", func(s *JobSpec) { s.Pages = nil }, "at least one page"},
		{"blank page", func(s *JobSpec) { s.Pages = []string{"/", ""} }, "must not be blank"},
		{"negative threshold", func(s *JobSpec) { s.Threshold = -1 }, "between 0 and 100"},
		{"threshold too high", func(s *JobSpec) { s.Threshold = 100.5 }, "between 0 and 100"},
		{"NaN threshold", func(s *JobSpec) { s.Threshold = math.NaN() }, "between 0 and 100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			s.Pages = append([]string(nil), valid.Pages...)
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestJobLifecycle(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 600, time.UTC)
	job := NewJob(JobSpec{
		BaseURLA:  "https://a.test",
		BaseURLB:  "https://b.test",
		Pages:     []string{"/"},
		Threshold: 2,
	}, created)

	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, created.Truncate(time.Second), job.CreatedAt)
	assert.Nil(t, job.CompletedAt)
	assert.Empty(t, job.Results)

	require.NoError(t, job.Start())
	assert.Equal(t, StatusRunning, job.Status)

	// An interrupted run may be restarted.
	require.NoError(t, job.Start())

	results := []PageResult{{Path: "/", HasDifference: true}}
	require.NoError(t, job.Complete(results, created.Add(time.Minute)))
	assert.Equal(t, StatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.False(t, job.CompletedAt.Before(job.CreatedAt))
	assert.Equal(t, results, job.Results)

	err := job.Start()
	require.ErrorIs(t, err, ErrAlreadyCompleted)
	assert.Equal(t, StatusCompleted, job.Status)
}

func TestCompleteNeverBeforeCreated(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	job := NewJob(JobSpec{Pages: []string{"/"}}, created)
	require.NoError(t, job.Start())

	require.NoError(t, job.Complete(nil, created.Add(-time.Hour)))
	assert.Equal(t, job.CreatedAt, *job.CompletedAt)
}

func TestIssuesAndSummary(t *testing.T) {
	job := &Job{
		ID:     "job-20250101000000-deadbeef",
		Status: StatusCompleted,
		Results: []PageResult{
			{Path: "/", DifferencePercentage: 0},
			{Path: "/about", DifferencePercentage: 5, HasDifference: true},
			{Path: "/broken", Error: "render B: boom", HasDifference: true},
		},
	}

	issues := job.Issues()
	require.Len(t, issues, 2)
	assert.Equal(t, "/about", issues[0].Path)
	assert.Equal(t, "/broken", issues[1].Path)

	s := Summarize(job)
	assert.Equal(t, 3, s.Compared)
	assert.Equal(t, 2, s.IssueCount)
	assert.Equal(t, 1, s.ErrorCount)
	assert.Equal(t, issues, s.Issues)
}

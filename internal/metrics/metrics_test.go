package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visualdiff/internal/core/domain"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.PageCompared(domain.PageResult{Path: "/", DifferencePercentage: 0.2}, time.Second)
	c.PageCompared(domain.PageResult{Path: "/about", DifferencePercentage: 7.5, HasDifference: true}, 2*time.Second)
	c.PageCompared(domain.PageResult{Path: "/broken", HasDifference: true, Error: "render A: boom"}, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.pagesTotal.WithLabelValues(OutcomeMatch)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pagesTotal.WithLabelValues(OutcomeChanged)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pagesTotal.WithLabelValues(OutcomeError)))
	assert.Equal(t, 7.5, testutil.ToFloat64(c.lastDifference.WithLabelValues("/about")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.lastDifference), "failed pages set no gauge")

	job := &domain.Job{Results: []domain.PageResult{
		{Path: "/"},
		{Path: "/about", HasDifference: true},
	}}
	c.JobCompleted(job, time.Minute)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobIssues))

	expected := `
# HELP visualdiff_compare_jobs_completed_total Total number of completed comparison jobs.
# TYPE visualdiff_compare_jobs_completed_total counter
visualdiff_compare_jobs_completed_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "visualdiff_compare_jobs_completed_total"))
}

func TestNewWithoutRegistry(t *testing.T) {
	c := New(nil)
	c.JobCompleted(&domain.Job{}, time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsTotal))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeMatch, Outcome(domain.PageResult{}))
	assert.Equal(t, OutcomeChanged, Outcome(domain.PageResult{HasDifference: true}))
	assert.Equal(t, OutcomeError, Outcome(domain.PageResult{HasDifference: true, Error: "x"}))
}

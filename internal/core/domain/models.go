package domain

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a comparison job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// rank orders statuses so transitions can be checked for monotonicity.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.rank() >= 0 }

// Side identifies one of the two compared deployments.
type Side string

const (
	SideA Side = "A" // reference
	SideB Side = "B" // candidate
)

// jobIDTimeLayout is the timestamp portion of a job id.
const jobIDTimeLayout = "20060102150405"

var jobIDPattern = regexp.MustCompile(`^job-\d{14}-[0-9a-f]{8}$`)

// NewJobID returns a fresh id of the form job-<YYYYMMDDHHMMSS>-<8 hex>.
// The suffix comes from a random UUID; collisions are treated as negligible.
func NewJobID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "job-" + now.UTC().Format(jobIDTimeLayout) + "-" + suffix
}

// ValidJobID reports whether id follows the job id naming convention.
func ValidJobID(id string) bool {
	return jobIDPattern.MatchString(id)
}

// JobSpec holds the caller-supplied parameters of a job.
type JobSpec struct {
	BaseURLA  string   `json:"baseUrlA"`
	BaseURLB  string   `json:"baseUrlB"`
	Pages     []string `json:"pages"`
	Threshold float64  `json:"threshold"`
}

// Validate checks required fields and the threshold range. All problems are
// reported together.
func (s JobSpec) Validate() error {
	var errs []error
	if err := validateBaseURL("A", s.BaseURLA); err != nil {
		errs = append(errs, err)
	}
	if err := validateBaseURL("B", s.BaseURLB); err != nil {
		errs = append(errs, err)
	}
	if len(s.Pages) == 0 {
		errs = append(errs, errors.New("at least one page is required"))
	}
	for _, p := range s.Pages {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, errors.New("page paths must not be blank"))
			break
		}
	}
	if s.Threshold < 0 || s.Threshold > 100 || math.IsNaN(s.Threshold) {
		errs = append(errs, fmt.Errorf("threshold must be a number between 0 and 100, got %v", s.Threshold))
	}
	return errors.Join(errs...)
}

func validateBaseURL(side, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("base URL %s is required", side)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("base URL %s must be an absolute http(s) URL: %q", side, raw)
	}
	return nil
}

// Job represents one comparison run between base A and base B.
type Job struct {
	ID          string       `json:"jobId"`
	BaseURLA    string       `json:"baseUrlA"`
	BaseURLB    string       `json:"baseUrlB"`
	Pages       []string     `json:"pages"`
	Threshold   float64      `json:"threshold"`
	Status      Status       `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	CompletedAt *time.Time   `json:"completedAt"`
	Results     []PageResult `json:"results"`
}

// NewJob builds a pending job from spec. Timestamps have second precision so
// they survive the job record unchanged.
func NewJob(spec JobSpec, now time.Time) *Job {
	now = now.UTC().Truncate(time.Second)
	pages := make([]string, len(spec.Pages))
	copy(pages, spec.Pages)
	return &Job{
		ID:        NewJobID(now),
		BaseURLA:  spec.BaseURLA,
		BaseURLB:  spec.BaseURLB,
		Pages:     pages,
		Threshold: spec.Threshold,
		Status:    StatusPending,
		CreatedAt: now,
		Results:   []PageResult{},
	}
}

// Spec returns the immutable parameters of the job.
func (j *Job) Spec() JobSpec {
	return JobSpec{BaseURLA: j.BaseURLA, BaseURLB: j.BaseURLB, Pages: j.Pages, Threshold: j.Threshold}
}

// ErrAlreadyCompleted is returned when a completed job is started again.
var ErrAlreadyCompleted = errors.New("job already completed")

// Start moves the job to running. A job left running by an interrupted
// execution may be started again; its pages are redone from scratch.
func (j *Job) Start() error {
	if j.Status == StatusCompleted {
		return fmt.Errorf("job %s: %w", j.ID, ErrAlreadyCompleted)
	}
	if err := j.advance(StatusRunning); err != nil {
		return err
	}
	j.Status = StatusRunning
	j.Results = []PageResult{}
	return nil
}

// Complete moves the job to completed and stores results.
func (j *Job) Complete(results []PageResult, now time.Time) error {
	if err := j.advance(StatusCompleted); err != nil {
		return err
	}
	done := now.UTC().Truncate(time.Second)
	if done.Before(j.CreatedAt) {
		done = j.CreatedAt
	}
	j.Status = StatusCompleted
	j.CompletedAt = &done
	j.Results = results
	return nil
}

func (j *Job) advance(to Status) error {
	if to.rank() < j.Status.rank() {
		return fmt.Errorf("job %s: invalid status transition %s -> %s", j.ID, j.Status, to)
	}
	return nil
}

// Issues returns the results flagged as differing, in page order.
func (j *Job) Issues() []PageResult {
	issues := []PageResult{}
	for _, r := range j.Results {
		if r.HasDifference {
			issues = append(issues, r)
		}
	}
	return issues
}

// PageResult is the outcome of comparing one page across A and B.
type PageResult struct {
	Path                 string  `json:"path"`
	URLA                 string  `json:"urlA"`
	URLB                 string  `json:"urlB"`
	DifferencePercentage float64 `json:"differencePercentage"`
	HasDifference        bool    `json:"hasDifference"`
	Error                string  `json:"error,omitempty"`
	ImagePathA           string  `json:"imagePathA,omitempty"`
	ImagePathB           string  `json:"imagePathB,omitempty"`
	DiffImagePath        string  `json:"diffImagePath,omitempty"`
}

// Failed reports whether the page could not be rendered or compared.
func (r PageResult) Failed() bool { return r.Error != "" }

// JoinURL joins a base URL and a page path with exactly one slash between them.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// Summary is the report handed to notification sinks once a job completes.
type Summary struct {
	JobID       string       `json:"jobId"`
	BaseURLA    string       `json:"baseUrlA"`
	BaseURLB    string       `json:"baseUrlB"`
	Threshold   float64      `json:"threshold"`
	Compared    int          `json:"compared"`
	IssueCount  int          `json:"issueCount"`
	ErrorCount  int          `json:"errorCount"`
	CompletedAt *time.Time   `json:"completedAt"`
	Issues      []PageResult `json:"issues"`
}

// Summarize builds the report for a job.
func Summarize(j *Job) Summary {
	issues := j.Issues()
	errCount := 0
	for _, r := range j.Results {
		if r.Failed() {
			errCount++
		}
	}
	return Summary{
		JobID:       j.ID,
		BaseURLA:    j.BaseURLA,
		BaseURLB:    j.BaseURLB,
		Threshold:   j.Threshold,
		Compared:    len(j.Results),
		IssueCount:  len(issues),
		ErrorCount:  errCount,
		CompletedAt: j.CompletedAt,
		Issues:      issues,
	}
}

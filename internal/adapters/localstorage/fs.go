package localstorage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"visualdiff/internal/core/domain"
	"visualdiff/internal/core/errs"
)

const (
	jobFileName = "job.json"
	imagesDir   = "images"
	diffsDir    = "diffs"
	imageExt    = ".png"
)

// legacyTimeLayout is accepted when reading records written by older tooling.
const legacyTimeLayout = "2006-01-02 15:04:05"

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// LocalStorage implements ports.JobStore on the local filesystem.
type LocalStorage struct {
	BaseDir string
}

// NewLocalStorage creates a new LocalStorage rooted at baseDir.
func NewLocalStorage(baseDir string) *LocalStorage {
	return &LocalStorage{BaseDir: baseDir}
}

// JobDir returns the directory holding everything for a job.
func (s *LocalStorage) JobDir(jobID string) string {
	return filepath.Join(s.BaseDir, jobID)
}

// ImagePath returns where the render of page on side is stored.
func (s *LocalStorage) ImagePath(jobID, page string, side domain.Side) string {
	return filepath.Join(s.JobDir(jobID), imagesDir, string(side), SanitizeName(page)+imageExt)
}

// DiffImagePath returns where the diff image of page is stored.
func (s *LocalStorage) DiffImagePath(jobID, page string) string {
	return filepath.Join(s.JobDir(jobID), diffsDir, SanitizeName(page)+imageExt)
}

// SanitizeName turns a page path into a filesystem-safe file stem.
// Distinct paths may collide ("/a.b" and "/ab" both become "ab").
func SanitizeName(page string) string {
	name := strings.TrimLeft(page, "/")
	name = strings.ReplaceAll(name, "/", "_")
	name = unsafeChars.ReplaceAllString(name, "")
	if name == "" {
		return "index"
	}
	return name
}

// jobRecord is the on-disk form of a job.
type jobRecord struct {
	JobID       string              `json:"jobId"`
	BaseURLA    string              `json:"baseUrlA"`
	BaseURLB    string              `json:"baseUrlB"`
	Pages       []string            `json:"pages"`
	URLs        []string            `json:"urls,omitempty"` // legacy name of pages
	Threshold   float64             `json:"threshold"`
	Status      domain.Status       `json:"status"`
	CreatedAt   *string             `json:"createdAt"`
	CompletedAt *string             `json:"completedAt"`
	Results     []domain.PageResult `json:"results"`
}

func toRecord(job *domain.Job) jobRecord {
	rec := jobRecord{
		JobID:     job.ID,
		BaseURLA:  job.BaseURLA,
		BaseURLB:  job.BaseURLB,
		Pages:     job.Pages,
		Threshold: job.Threshold,
		Status:    job.Status,
		Results:   job.Results,
	}
	if rec.Pages == nil {
		rec.Pages = []string{}
	}
	if rec.Results == nil {
		rec.Results = []domain.PageResult{}
	}
	if !job.CreatedAt.IsZero() {
		created := job.CreatedAt.UTC().Format(time.RFC3339)
		rec.CreatedAt = &created
	}
	if job.CompletedAt != nil {
		completed := job.CompletedAt.UTC().Format(time.RFC3339)
		rec.CompletedAt = &completed
	}
	return rec
}

func (rec jobRecord) toJob() (*domain.Job, error) {
	if rec.JobID == "" {
		return nil, fmt.Errorf("record has no job id")
	}
	if !rec.Status.Valid() {
		return nil, fmt.Errorf("record has unknown status %q", rec.Status)
	}
	job := &domain.Job{
		ID:        rec.JobID,
		BaseURLA:  rec.BaseURLA,
		BaseURLB:  rec.BaseURLB,
		Pages:     rec.Pages,
		Threshold: rec.Threshold,
		Status:    rec.Status,
		Results:   rec.Results,
	}
	if len(job.Pages) == 0 && len(rec.URLs) > 0 {
		job.Pages = rec.URLs
	}
	if job.Pages == nil {
		job.Pages = []string{}
	}
	if job.Results == nil {
		job.Results = []domain.PageResult{}
	}
	if rec.CreatedAt != nil && *rec.CreatedAt != "" {
		t, err := parseTimestamp(*rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("createdAt: %w", err)
		}
		job.CreatedAt = t
	}
	if rec.CompletedAt != nil && *rec.CompletedAt != "" {
		t, err := parseTimestamp(*rec.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("completedAt: %w", err)
		}
		job.CompletedAt = &t
	}
	return job, nil
}

func parseTimestamp(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(legacyTimeLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", v)
	}
	return t, nil
}

// SaveJob writes job.json, creating the job directory if needed. The record is
// written to a temporary file and renamed so readers never see partial data.
func (s *LocalStorage) SaveJob(ctx context.Context, job *domain.Job) error {
	dir := s.JobDir(job.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.Wrap(errs.CodeStorage, err, "failed to create job directory %s", dir)
	}

	data, err := json.MarshalIndent(toRecord(job), "", "  ")
	if err != nil {
		return errs.Wrap(errs.CodeStorage, err, "failed to encode job %s", job.ID)
	}

	tmp, err := os.CreateTemp(dir, jobFileName+".*.tmp")
	if err != nil {
		return errs.Wrap(errs.CodeStorage, err, "failed to save %s", jobFileName)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.Wrap(errs.CodeStorage, err, "failed to write %s", jobFileName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.CodeStorage, err, "failed to write %s", jobFileName)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.CodeStorage, err, "failed to write %s", jobFileName)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, jobFileName)); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.CodeStorage, err, "failed to replace %s", jobFileName)
	}
	return nil
}

// LoadJob reads a job record. It returns nil, nil when the job does not exist
// or jobID is not a valid job id.
func (s *LocalStorage) LoadJob(ctx context.Context, jobID string) (*domain.Job, error) {
	if !domain.ValidJobID(jobID) {
		return nil, nil
	}
	path := filepath.Join(s.JobDir(jobID), jobFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorage, err, "failed to read %s", path)
	}

	var rec jobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errs.Wrap(errs.CodeStorage, err, "failed to parse %s", path)
	}
	job, err := rec.toJob()
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorage, err, "invalid record %s", path)
	}
	return job, nil
}

// ListJobs loads every job directory under BaseDir. Records that are missing
// or fail to parse are skipped.
func (s *LocalStorage) ListJobs(ctx context.Context) ([]*domain.Job, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if os.IsNotExist(err) {
		return []*domain.Job{}, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorage, err, "failed to read %s", s.BaseDir)
	}

	jobs := []*domain.Job{}
	for _, entry := range entries {
		if !entry.IsDir() || !domain.ValidJobID(entry.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		job, err := s.LoadJob(ctx, entry.Name())
		if err != nil || job == nil {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

// DeleteJob removes the job directory. Deleting an unknown job is a no-op.
func (s *LocalStorage) DeleteJob(ctx context.Context, jobID string) error {
	if !domain.ValidJobID(jobID) {
		return errs.New(errs.CodeInvalidInput, "invalid job id %q", jobID)
	}
	if err := os.RemoveAll(s.JobDir(jobID)); err != nil {
		return errs.Wrap(errs.CodeStorage, err, "failed to delete job %s", jobID)
	}
	return nil
}

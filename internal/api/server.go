// Package api serves jobs, issues and artifacts over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"visualdiff/internal/core/domain"
	"visualdiff/internal/core/errs"
	"visualdiff/internal/service"
)

// Jobs is the orchestrator surface the API exposes.
type Jobs interface {
	CreateJob(ctx context.Context, spec domain.JobSpec) (string, error)
	ExecuteJob(ctx context.Context, jobID string) ([]domain.PageResult, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context) ([]*domain.Job, error)
	GetJobIssues(ctx context.Context, jobID string) ([]domain.PageResult, error)
}

// JobDirs maps a job id to the directory holding its artifacts.
type JobDirs interface {
	JobDir(jobID string) string
}

// Server holds the HTTP handlers.
type Server struct {
	jobs     Jobs
	dirs     JobDirs
	logger   *log.Logger
	gatherer prometheus.Gatherer

	// Background executions run on baseCtx, not the request context.
	baseCtx context.Context
	wg      sync.WaitGroup

	mu      sync.Mutex
	running map[string]struct{} // job ids with an execution in flight
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithBaseContext sets the context background executions inherit.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.baseCtx = ctx }
}

// New creates a Server.
func New(jobs Jobs, dirs JobDirs, logger *log.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		jobs:    jobs,
		dirs:    dirs,
		logger:  logger,
		baseCtx: context.Background(),
		running: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Post("/execute", s.handleExecute)
			r.Get("/issues", s.handleIssues)
			r.Get("/artifacts/*", s.handleArtifact)
		})
	})
	return r
}

// Wait blocks until every background execution has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Millisecond),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// createRequest is the body of POST /jobs.
type createRequest struct {
	BaseURLA  string   `json:"baseUrlA"`
	BaseURLB  string   `json:"baseUrlB"`
	Pages     []string `json:"pages"`
	Threshold *float64 `json:"threshold"`
}

// defaultThreshold applies when a create request omits the threshold.
const defaultThreshold = 1.0

// POST /jobs[?wait=true]
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, errs.Wrap(errs.CodeInvalidInput, err, "invalid request body"))
		return
	}
	spec := domain.JobSpec{
		BaseURLA:  req.BaseURLA,
		BaseURLB:  req.BaseURLB,
		Pages:     req.Pages,
		Threshold: defaultThreshold,
	}
	if req.Threshold != nil {
		spec.Threshold = *req.Threshold
	}

	id, err := s.jobs.CreateJob(r.Context(), spec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+id)
	s.execute(w, r, id)
}

// POST /jobs/{id}/execute[?wait=true]
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if job.Status == domain.StatusCompleted {
		s.writeError(w, errs.Wrap(errs.CodeJobState, domain.ErrAlreadyCompleted, "cannot execute job %s", id))
		return
	}
	s.execute(w, r, id)
}

// execute runs the job inline when ?wait=true and in the background otherwise.
// A job already executing through this server is rejected with 409.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, id string) {
	if !s.claim(id) {
		s.writeError(w, errs.Wrap(errs.CodeJobState, service.ErrExecuting, "cannot execute job %s", id))
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		defer s.release(id)
		if _, err := s.jobs.ExecuteJob(r.Context(), id); err != nil {
			s.writeError(w, err)
			return
		}
		job, err := s.jobs.GetJob(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, job)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(id)
		if _, err := s.jobs.ExecuteJob(s.baseCtx, id); err != nil {
			s.logger.Error("background execution failed", "job", id, "error", err)
		}
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id, "status": string(domain.StatusRunning)})
}

func (s *Server) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[id]; busy {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

func (s *Server) release(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

// GET /jobs
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListJobs(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	listing := make([]jobListing, 0, len(jobs))
	for _, j := range jobs {
		listing = append(listing, jobListing{
			JobID:       j.ID,
			Status:      j.Status,
			Pages:       len(j.Pages),
			IssueCount:  len(j.Issues()),
			CreatedAt:   j.CreatedAt,
			CompletedAt: j.CompletedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, listing)
}

type jobListing struct {
	JobID       string        `json:"jobId"`
	Status      domain.Status `json:"status"`
	Pages       int           `json:"pages"`
	IssueCount  int           `json:"issueCount"`
	CreatedAt   time.Time     `json:"createdAt"`
	CompletedAt *time.Time    `json:"completedAt"`
}

// GET /jobs/{id}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// GET /jobs/{id}/issues
func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := s.jobs.GetJobIssues(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, issues)
}

// GET /jobs/{id}/artifacts/images/A/index.png
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !domain.ValidJobID(id) {
		s.writeError(w, errs.New(errs.CodeJobNotFound, "job not found: %s", id))
		return
	}
	rel := path.Clean("/" + chi.URLParam(r, "*"))
	full := filepath.Join(s.dirs.JobDir(id), filepath.FromSlash(rel))

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		s.writeError(w, errs.New(errs.CodeJobNotFound, "artifact not found: %s", rel))
		return
	}
	http.ServeFile(w, r, full)
}

type errorBody struct {
	Code  errs.Code `json:"code"`
	Error string    `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errs.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errs.CodeInvalidInput:
		status = http.StatusBadRequest
	case errs.CodeJobNotFound:
		status = http.StatusNotFound
	case errs.CodeJobState:
		status = http.StatusConflict
	}
	if errors.Is(err, context.Canceled) {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, errorBody{Code: code, Error: errs.UserMessage(err)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response failed", "status", status, "error", err)
	}
}

package ports

import (
	"context"
	"time"

	"visualdiff/internal/core/domain"
)

// RenderOptions tunes a single page render. Zero fields fall back to the
// renderer defaults; see DefaultRenderOptions.
type RenderOptions struct {
	Format          string        // png, jpg, bmp, svg (wkhtmltoimage) or png, jpeg, webp (chromium)
	Width           int           // viewport width in pixels
	Height          int           // viewport height in pixels
	Quality         int           // 0-100, lossy formats only
	JavaScriptDelay time.Duration // settle time after load

	// DisableJavaScript turns script execution off. Nil inherits.
	DisableJavaScript *bool
	// StrictLoadErrors aborts the render on page or media load errors
	// instead of ignoring them. Nil inherits.
	StrictLoadErrors *bool
}

// Bool returns a pointer to v, for the optional RenderOptions switches.
func Bool(v bool) *bool { return &v }

// JavaScriptDisabled reports whether scripts are turned off.
func (o RenderOptions) JavaScriptDisabled() bool {
	return o.DisableJavaScript != nil && *o.DisableJavaScript
}

// StrictLoads reports whether load errors abort the render.
func (o RenderOptions) StrictLoads() bool {
	return o.StrictLoadErrors != nil && *o.StrictLoadErrors
}

// DefaultRenderOptions returns the options used when a caller sets nothing.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		Format:          "png",
		Width:           1920,
		Height:          1080,
		Quality:         100,
		JavaScriptDelay: 2000 * time.Millisecond,
	}
}

// Merge returns o with every non-zero field of over applied on top. The
// switches are applied whenever over sets them, so they can be turned off too.
func (o RenderOptions) Merge(over RenderOptions) RenderOptions {
	if over.Format != "" {
		o.Format = over.Format
	}
	if over.Width > 0 {
		o.Width = over.Width
	}
	if over.Height > 0 {
		o.Height = over.Height
	}
	if over.Quality > 0 {
		o.Quality = over.Quality
	}
	if over.JavaScriptDelay > 0 {
		o.JavaScriptDelay = over.JavaScriptDelay
	}
	if over.DisableJavaScript != nil {
		o.DisableJavaScript = Bool(*over.DisableJavaScript)
	}
	if over.StrictLoadErrors != nil {
		o.StrictLoadErrors = Bool(*over.StrictLoadErrors)
	}
	return o
}

// Renderer rasterizes a URL to an image file.
type Renderer interface {
	// Render writes exactly one image to outputPath or returns a
	// RENDER_FAILED error. On failure the file must not be trusted.
	Render(ctx context.Context, url, outputPath string, opts RenderOptions) error

	// IsAvailable reports whether the rendering engine can be used.
	IsAvailable() bool

	// Version describes the rendering engine, or "not installed".
	Version(ctx context.Context) string
}

// Comparator diffs two rendered images.
type Comparator interface {
	// Compare returns the difference percentage in [0,100] and writes a PNG
	// diff image to diffPath, or returns a COMPARISON_FAILED error.
	Compare(pathA, pathB, diffPath string) (float64, error)

	// Method names the active comparison strategy.
	Method() string
}

// JobStore persists job records and derives artifact locations.
type JobStore interface {
	JobDir(jobID string) string
	ImagePath(jobID, page string, side domain.Side) string
	DiffImagePath(jobID, page string) string

	// SaveJob writes the full record, replacing any previous one.
	SaveJob(ctx context.Context, job *domain.Job) error

	// LoadJob returns nil, nil when no record exists for jobID.
	LoadJob(ctx context.Context, jobID string) (*domain.Job, error)

	// ListJobs returns every job whose record parses, ordered by id.
	ListJobs(ctx context.Context) ([]*domain.Job, error)

	// DeleteJob removes the job record and its artifacts.
	DeleteJob(ctx context.Context, jobID string) error
}

// Notifier delivers the report of a completed job.
type Notifier interface {
	Notify(ctx context.Context, summary domain.Summary) error
	Close() error
}

// Package fakes provides in-memory stand-ins for the renderer and comparator
// used by package tests.
package fakes

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"visualdiff/internal/core/domain"
	"visualdiff/internal/core/errs"
	"visualdiff/internal/core/ports"
)

// Renderer writes a placeholder file for every render. Renders of URLs listed
// in Fail return the mapped error instead. When Gate is set, each render
// blocks until Gate is closed or ctx is done.
type Renderer struct {
	Fail        map[string]error
	Unavailable bool
	Gate        chan struct{}

	mu    sync.Mutex
	calls []string
}

// Render implements ports.Renderer.
func (r *Renderer) Render(ctx context.Context, url, outputPath string, opts ports.RenderOptions) error {
	r.mu.Lock()
	r.calls = append(r.calls, url)
	r.mu.Unlock()

	if r.Gate != nil {
		select {
		case <-r.Gate:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.CodeRender, err, "failed to render %s", url)
	}
	if err, ok := r.Fail[url]; ok {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(outputPath, []byte(url), 0644)
}

// IsAvailable implements ports.Renderer.
func (r *Renderer) IsAvailable() bool { return !r.Unavailable }

// Version implements ports.Renderer.
func (r *Renderer) Version(context.Context) string { return "fake 1.0" }

// Calls returns the rendered URLs in call order.
func (r *Renderer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Comparator returns canned percentages keyed by the file stem of the diff
// path (the sanitized page name). Unknown pages score zero.
type Comparator struct {
	Percentages map[string]float64
	Fail        map[string]error
}

// Compare implements ports.Comparator.
func (c *Comparator) Compare(pathA, pathB, diffPath string) (float64, error) {
	key := strings.TrimSuffix(filepath.Base(diffPath), filepath.Ext(diffPath))
	if err, ok := c.Fail[key]; ok {
		return 0, err
	}
	for _, p := range []string{pathA, pathB} {
		if _, err := os.Stat(p); err != nil {
			return 0, errs.New(errs.CodeComparison, "image not found: %s", p)
		}
	}
	if err := os.MkdirAll(filepath.Dir(diffPath), 0755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(diffPath, []byte("diff"), 0644); err != nil {
		return 0, err
	}
	return c.Percentages[key], nil
}

// Method implements ports.Comparator.
func (c *Comparator) Method() string { return "fake" }

// Notifier records every summary it receives.
type Notifier struct {
	Err error

	mu        sync.Mutex
	summaries []domain.Summary
	closed    bool
}

// Notify implements ports.Notifier.
func (n *Notifier) Notify(ctx context.Context, s domain.Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, s)
	return n.Err
}

// Close implements ports.Notifier.
func (n *Notifier) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	return nil
}

// Summaries returns the received summaries.
func (n *Notifier) Summaries() []domain.Summary {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Summary(nil), n.summaries...)
}

var (
	_ ports.Renderer   = (*Renderer)(nil)
	_ ports.Comparator = (*Comparator)(nil)
	_ ports.Notifier   = (*Notifier)(nil)
)

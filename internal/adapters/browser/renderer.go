// Package browser renders pages with headless Chrome driven over the DevTools
// protocol. A single browser is launched lazily on the first render (or a
// remote instance is dialled) and reused until Close.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"visualdiff/internal/core/errs"
	"visualdiff/internal/core/ports"
)

// Config configures the Chrome renderer.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty = launch a local Chrome.
	RemoteURL string

	// Binary overrides the Chrome executable used for local launches.
	Binary string

	// Timeout bounds navigation plus capture. Zero means no limit.
	Timeout time.Duration

	Defaults ports.RenderOptions
	Logger   *log.Logger
}

// Renderer implements ports.Renderer with go-rod.
type Renderer struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewRenderer creates a Renderer. Chrome is not started until the first Render.
func NewRenderer(cfg Config) *Renderer {
	cfg.Defaults = ports.DefaultRenderOptions().Merge(cfg.Defaults)
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Renderer{cfg: cfg}
}

func (r *Renderer) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	wsURL := r.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true)
		if bin := r.chromePath(); bin != "" {
			l = l.Bin(bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		wsURL = u
		r.lnch = l
		r.cfg.Logger.Debug("launched local chrome", "url", wsURL)
	} else {
		r.cfg.Logger.Debug("connecting to remote chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if r.lnch != nil {
			r.lnch.Kill()
			r.lnch = nil
		}
		return nil, fmt.Errorf("connect chrome: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		r.cfg.Logger.Warn("ignore cert errors failed", "error", err)
	}
	r.browser = b
	return b, nil
}

func (r *Renderer) chromePath() string {
	if r.cfg.Binary != "" {
		return r.cfg.Binary
	}
	path, _ := launcher.LookPath()
	return path
}

// Render navigates a fresh tab to pageURL and writes a screenshot to outputPath.
func (r *Renderer) Render(ctx context.Context, pageURL, outputPath string, opts ports.RenderOptions) error {
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errs.New(errs.CodeRender, "refusing to render non-http URL %q", pageURL)
	}
	o := r.cfg.Defaults.Merge(opts)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return errs.Wrap(errs.CodeRender, err, "failed to create output directory for %s", outputPath)
	}

	b, err := r.connect()
	if err != nil {
		return errs.Wrap(errs.CodeRender, err, "failed to render %s", pageURL)
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return errs.Wrap(errs.CodeRender, err, "failed to open tab for %s", pageURL)
	}
	defer page.Close()
	page = page.Context(ctx)

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             o.Width,
		Height:            o.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return errs.Wrap(errs.CodeRender, err, "failed to set viewport for %s", pageURL)
	}
	if o.JavaScriptDisabled() {
		if err := (proto.EmulationSetScriptExecutionDisabled{Value: true}).Call(page); err != nil {
			return errs.Wrap(errs.CodeRender, err, "failed to disable javascript for %s", pageURL)
		}
	}

	if err := page.Navigate(pageURL); err != nil {
		if o.StrictLoads() {
			return errs.Wrap(errs.CodeRender, err, "failed to load %s", pageURL)
		}
		r.cfg.Logger.Warn("navigation error ignored", "url", pageURL, "error", err)
	}
	if err := page.WaitLoad(); err != nil {
		if o.StrictLoads() {
			return errs.Wrap(errs.CodeRender, err, "failed to load %s", pageURL)
		}
		r.cfg.Logger.Warn("wait load error ignored", "url", pageURL, "error", err)
	}

	if !o.JavaScriptDisabled() && o.JavaScriptDelay > 0 {
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.CodeRender, ctx.Err(), "failed to render %s", pageURL)
		case <-time.After(o.JavaScriptDelay):
		}
	}

	data, err := page.Screenshot(false, ScreenshotRequest(o))
	if err != nil {
		return errs.Wrap(errs.CodeRender, err, "failed to capture %s", pageURL)
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return errs.Wrap(errs.CodeRender, err, "failed to write %s", outputPath)
	}
	return nil
}

// ScreenshotRequest maps render options onto a capture request. Formats
// Chrome cannot produce fall back to PNG.
func ScreenshotRequest(o ports.RenderOptions) *proto.PageCaptureScreenshot {
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	switch strings.ToLower(o.Format) {
	case "jpg", "jpeg":
		req.Format = proto.PageCaptureScreenshotFormatJpeg
	case "webp":
		req.Format = proto.PageCaptureScreenshotFormatWebp
	default:
		return req
	}
	quality := o.Quality
	req.Quality = &quality
	return req
}

// IsAvailable reports whether a remote browser is configured or a local
// Chrome executable can be found.
func (r *Renderer) IsAvailable() bool {
	if r.cfg.RemoteURL != "" {
		return true
	}
	path := r.chromePath()
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Version returns the Chrome version string, or "not installed".
func (r *Renderer) Version(ctx context.Context) string {
	if r.cfg.RemoteURL != "" {
		return "remote chrome at " + r.cfg.RemoteURL
	}
	if !r.IsAvailable() {
		return "not installed"
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, r.chromePath(), "--version").CombinedOutput()
	if err != nil {
		return fmt.Sprintf("unknown (%v)", err)
	}
	return strings.TrimSpace(string(out))
}

// Close shuts the browser down and kills a locally launched Chrome.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Kill()
		r.lnch.Cleanup()
		r.lnch = nil
	}
	return err
}

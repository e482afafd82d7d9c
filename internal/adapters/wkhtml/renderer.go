package wkhtml

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"visualdiff/internal/core/errs"
	"visualdiff/internal/core/ports"
)

const binaryName = "wkhtmltoimage"

// DefaultSearchPaths are the well-known install locations, checked in order.
var DefaultSearchPaths = []string{
	"/usr/bin/wkhtmltoimage",
	"/usr/local/bin/wkhtmltoimage",
	"/opt/bin/wkhtmltoimage",
}

// Renderer rasterizes pages with the local wkhtmltoimage binary.
type Renderer struct {
	binaryPath string
	defaults   ports.RenderOptions
	timeout    time.Duration
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithDefaults replaces the baseline render options.
func WithDefaults(opts ports.RenderOptions) Option {
	return func(r *Renderer) { r.defaults = ports.DefaultRenderOptions().Merge(opts) }
}

// WithTimeout bounds each render. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(r *Renderer) { r.timeout = d }
}

// NewRenderer locates the binary. binary, when non-empty, is tried before the
// well-known locations and $PATH. A renderer is returned even when nothing is
// found; Render then fails fast and IsAvailable reports false.
func NewRenderer(binary string, opts ...Option) *Renderer {
	candidates := DefaultSearchPaths
	if binary != "" {
		candidates = append([]string{binary}, candidates...)
	}
	r := &Renderer{
		binaryPath: resolveBinary(candidates),
		defaults:   ports.DefaultRenderOptions(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func resolveBinary(candidates []string) string {
	for _, path := range candidates {
		if isExecutable(path) {
			return path
		}
	}
	if path, err := exec.LookPath(binaryName); err == nil {
		return path
	}
	return ""
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

// BinaryPath returns the resolved binary, or "" when none was found.
func (r *Renderer) BinaryPath() string { return r.binaryPath }

// Render writes a screenshot of pageURL to outputPath.
func (r *Renderer) Render(ctx context.Context, pageURL, outputPath string, opts ports.RenderOptions) error {
	if !r.IsAvailable() {
		return errs.New(errs.CodeRender,
			"%s binary not found (searched %s and $PATH); install the wkhtmltopdf package",
			binaryName, strings.Join(DefaultSearchPaths, ", "))
	}
	if err := checkURL(pageURL); err != nil {
		return err
	}

	absOut, err := filepath.Abs(outputPath)
	if err != nil {
		return errs.Wrap(errs.CodeRender, err, "invalid output path %s", outputPath)
	}
	if err := os.MkdirAll(filepath.Dir(absOut), 0755); err != nil {
		return errs.Wrap(errs.CodeRender, err, "failed to create output directory for %s", absOut)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := append(BuildArgs(r.defaults.Merge(opts)), pageURL, absOut)
	cmd := exec.CommandContext(ctx, r.binaryPath, args...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()
	if runErr != nil {
		return errs.Wrap(errs.CodeRender, runErr, "failed to render %s: %s", pageURL, strings.TrimSpace(out.String()))
	}
	if _, err := os.Stat(absOut); err != nil {
		return errs.New(errs.CodeRender, "failed to render %s: no output written: %s", pageURL, strings.TrimSpace(out.String()))
	}
	return nil
}

// BuildArgs converts options to wkhtmltoimage flags. Each flag and its value
// are separate arguments.
func BuildArgs(o ports.RenderOptions) []string {
	args := []string{
		"--format", o.Format,
		"--width", strconv.Itoa(o.Width),
		"--height", strconv.Itoa(o.Height),
		"--quality", strconv.Itoa(o.Quality),
	}
	if o.JavaScriptDisabled() {
		args = append(args, "--disable-javascript")
	} else {
		args = append(args,
			"--enable-javascript",
			"--javascript-delay", strconv.FormatInt(o.JavaScriptDelay.Milliseconds(), 10))
	}
	handling := "ignore"
	if o.StrictLoads() {
		handling = "abort"
	}
	args = append(args,
		"--load-error-handling", handling,
		"--load-media-error-handling", handling)
	return args
}

// checkURL rejects anything but absolute http(s) URLs so a value can never be
// mistaken for a flag.
func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errs.Wrap(errs.CodeRender, err, "invalid URL %q", raw)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errs.New(errs.CodeRender, "refusing to render non-http URL %q", raw)
	}
	return nil
}

// IsAvailable reports whether the binary exists and is executable.
func (r *Renderer) IsAvailable() bool {
	return r.binaryPath != "" && isExecutable(r.binaryPath)
}

// Version returns the output of `wkhtmltoimage --version`.
func (r *Renderer) Version(ctx context.Context) string {
	if !r.IsAvailable() {
		return "not installed"
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, r.binaryPath, "--version").CombinedOutput()
	if err != nil {
		return fmt.Sprintf("unknown (%v)", err)
	}
	return strings.TrimSpace(string(out))
}

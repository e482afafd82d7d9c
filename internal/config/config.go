// Package config loads visualdiff settings from an optional YAML file and
// VISUALDIFF_* environment variables. Command-line flags are applied on top
// by the CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"visualdiff/internal/core/domain"
	"visualdiff/internal/core/ports"
)

// Renderer engines.
const (
	EngineWkhtml   = "wkhtmltoimage"
	EngineChromium = "chromium"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VISUALDIFF_"

// Config is the top-level configuration.
type Config struct {
	StorageDir  string           `yaml:"storage_dir"`
	LogLevel    string           `yaml:"log_level"`
	Concurrency int              `yaml:"concurrency"`
	Job         JobConfig        `yaml:"job"`
	Renderer    RendererConfig   `yaml:"renderer"`
	Comparator  ComparatorConfig `yaml:"comparator"`
	Notify      NotifyConfig     `yaml:"notify"`
	Server      ServerConfig     `yaml:"server"`
}

// JobConfig is the comparison run by `visualdiff run` and the scheduler.
type JobConfig struct {
	BaseURLA  string   `yaml:"base_url_a"`
	BaseURLB  string   `yaml:"base_url_b"`
	Pages     []string `yaml:"pages"`
	Threshold float64  `yaml:"threshold"`
}

// RendererConfig selects and tunes the page renderer.
type RendererConfig struct {
	Engine            string        `yaml:"engine"` // wkhtmltoimage | chromium
	Binary            string        `yaml:"binary"`
	ChromeURL         string        `yaml:"chrome_url"` // remote DevTools endpoint, chromium only
	Timeout           time.Duration `yaml:"timeout"`
	Format            string        `yaml:"format"`
	Width             int           `yaml:"width"`
	Height            int           `yaml:"height"`
	Quality           int           `yaml:"quality"`
	JavaScriptDelay   time.Duration `yaml:"javascript_delay"`
	DisableJavaScript bool          `yaml:"disable_javascript"`
	StrictLoadErrors  bool          `yaml:"strict_load_errors"`
}

// ComparatorConfig selects the diff strategy.
type ComparatorConfig struct {
	Method string `yaml:"method"` // auto | mse | pixel
}

// NotifyConfig lists the report sinks. Empty values disable a sink.
type NotifyConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	WebhookRetries int    `yaml:"webhook_retries"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	RedisChannel   string `yaml:"redis_channel"`
}

// ServerConfig configures `visualdiff serve`.
type ServerConfig struct {
	Addr             string        `yaml:"addr"`
	ScheduleInterval time.Duration `yaml:"schedule_interval"` // 0 = no scheduled runs
}

// Default returns the built-in settings.
func Default() *Config {
	opts := ports.DefaultRenderOptions()
	return &Config{
		StorageDir:  "var/visual-diff",
		LogLevel:    "info",
		Concurrency: 1,
		Job: JobConfig{
			Threshold: 1.0,
		},
		Renderer: RendererConfig{
			Engine:          EngineWkhtml,
			Format:          opts.Format,
			Width:           opts.Width,
			Height:          opts.Height,
			Quality:         opts.Quality,
			JavaScriptDelay: opts.JavaScriptDelay,
		},
		Comparator: ComparatorConfig{Method: "auto"},
		Notify: NotifyConfig{
			WebhookRetries: 3,
			RedisChannel:   "visualdiff:reports",
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if path is
// not empty) and then with the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from VISUALDIFF_* variables found by lookup.
// Every malformed value is reported.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var problems []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				problems = append(problems, fmt.Errorf("%s%s: %q is not an integer", EnvPrefix, name, v))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				problems = append(problems, fmt.Errorf("%s%s: %q is not a duration", EnvPrefix, name, v))
				return
			}
			*dst = d
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				problems = append(problems, fmt.Errorf("%s%s: %q is not a boolean", EnvPrefix, name, v))
				return
			}
			*dst = b
		}
	}

	str("STORAGE_DIR", &c.StorageDir)
	str("LOG_LEVEL", &c.LogLevel)
	num("CONCURRENCY", &c.Concurrency)

	str("BASE_URL_A", &c.Job.BaseURLA)
	str("BASE_URL_B", &c.Job.BaseURLB)
	if v, ok := lookup(EnvPrefix + "PAGES"); ok {
		c.Job.Pages = SplitPages(v)
	}
	if v, ok := lookup(EnvPrefix + "THRESHOLD"); ok {
		th, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			problems = append(problems, fmt.Errorf("%sTHRESHOLD: %q is not a number", EnvPrefix, v))
		} else {
			c.Job.Threshold = th
		}
	}

	str("RENDERER", &c.Renderer.Engine)
	str("RENDERER_BINARY", &c.Renderer.Binary)
	str("CHROME_URL", &c.Renderer.ChromeURL)
	dur("RENDER_TIMEOUT", &c.Renderer.Timeout)
	str("RENDER_FORMAT", &c.Renderer.Format)
	num("RENDER_WIDTH", &c.Renderer.Width)
	num("RENDER_HEIGHT", &c.Renderer.Height)
	dur("JAVASCRIPT_DELAY", &c.Renderer.JavaScriptDelay)
	flag("DISABLE_JAVASCRIPT", &c.Renderer.DisableJavaScript)

	str("COMPARE_METHOD", &c.Comparator.Method)

	str("WEBHOOK_URL", &c.Notify.WebhookURL)
	str("REDIS_ADDR", &c.Notify.RedisAddr)
	str("REDIS_PASSWORD", &c.Notify.RedisPassword)
	num("REDIS_DB", &c.Notify.RedisDB)
	str("REDIS_CHANNEL", &c.Notify.RedisChannel)

	str("ADDR", &c.Server.Addr)
	dur("SCHEDULE", &c.Server.ScheduleInterval)

	return errors.Join(problems...)
}

// SplitPages parses a comma- or newline-separated page list, dropping blanks.
func SplitPages(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '\n' })
	pages := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			pages = append(pages, f)
		}
	}
	return pages
}

// Validate checks the settings every command needs. All problems are
// returned together.
func (c *Config) Validate() error {
	var problems []error
	if strings.TrimSpace(c.StorageDir) == "" {
		problems = append(problems, errors.New("storage_dir is required"))
	}
	if c.Concurrency < 1 {
		problems = append(problems, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	switch c.Renderer.Engine {
	case EngineWkhtml, EngineChromium:
	default:
		problems = append(problems, fmt.Errorf("unknown renderer engine %q (want %s or %s)", c.Renderer.Engine, EngineWkhtml, EngineChromium))
	}
	if c.Renderer.Timeout < 0 {
		problems = append(problems, errors.New("renderer timeout must not be negative"))
	}
	if c.Renderer.Quality < 0 || c.Renderer.Quality > 100 {
		problems = append(problems, fmt.Errorf("renderer quality must be between 0 and 100, got %d", c.Renderer.Quality))
	}
	switch strings.ToLower(c.Comparator.Method) {
	case "", "auto", "mse", "pixel":
	default:
		problems = append(problems, fmt.Errorf("unknown comparator method %q (want auto, mse or pixel)", c.Comparator.Method))
	}
	if c.Notify.WebhookRetries < 0 {
		problems = append(problems, errors.New("webhook_retries must not be negative"))
	}
	if c.Server.ScheduleInterval < 0 {
		problems = append(problems, errors.New("schedule_interval must not be negative"))
	}
	return errors.Join(problems...)
}

// ValidateJob checks the settings plus the configured job.
func (c *Config) ValidateJob() error {
	return errors.Join(c.Validate(), c.JobSpec().Validate())
}

// JobSpec returns the configured comparison.
func (c *Config) JobSpec() domain.JobSpec {
	return domain.JobSpec{
		BaseURLA:  c.Job.BaseURLA,
		BaseURLB:  c.Job.BaseURLB,
		Pages:     append([]string(nil), c.Job.Pages...),
		Threshold: c.Job.Threshold,
	}
}

// RenderOptions returns the per-render options.
func (c *Config) RenderOptions() ports.RenderOptions {
	return ports.RenderOptions{
		Format:            c.Renderer.Format,
		Width:             c.Renderer.Width,
		Height:            c.Renderer.Height,
		Quality:           c.Renderer.Quality,
		JavaScriptDelay:   c.Renderer.JavaScriptDelay,
		DisableJavaScript: ports.Bool(c.Renderer.DisableJavaScript),
		StrictLoadErrors:  ports.Bool(c.Renderer.StrictLoadErrors),
	}
}

package cli

import (
	"github.com/prometheus/client_golang/prometheus"

	"visualdiff/internal/adapters/browser"
	"visualdiff/internal/adapters/imagediff"
	"visualdiff/internal/adapters/localstorage"
	"visualdiff/internal/adapters/notify"
	"visualdiff/internal/adapters/wkhtml"
	"visualdiff/internal/config"
	"visualdiff/internal/core/ports"
	"visualdiff/internal/metrics"
	"visualdiff/internal/service"
)

// app bundles the components built from one configuration.
type app struct {
	cfg        *config.Config
	store      *localstorage.LocalStorage
	renderer   ports.Renderer
	comparator ports.Comparator
	orch       *service.Orchestrator
	closers    []func() error
}

func (a *app) Close() {
	for _, fn := range a.closers {
		fn()
	}
}

// build wires the renderer, comparator, store and orchestrator. A non-nil reg
// also registers the metrics collector.
func (c *CLI) build(cfg *config.Config, reg prometheus.Registerer) (*app, error) {
	a := &app{cfg: cfg, store: localstorage.NewLocalStorage(cfg.StorageDir)}

	a.renderer = c.renderer
	if a.renderer == nil {
		a.renderer = c.newRenderer(cfg, a)
	}

	a.comparator = c.comparator
	if a.comparator == nil {
		cmp, err := imagediff.NewComparator(cfg.Comparator.Method)
		if err != nil {
			return nil, err
		}
		a.comparator = cmp
	}

	opts := []service.Option{
		service.WithRenderOptions(cfg.RenderOptions()),
		service.WithConcurrency(cfg.Concurrency),
	}
	if reg != nil {
		opts = append(opts, service.WithObserver(metrics.New(reg)))
	}
	a.orch = service.NewOrchestrator(a.renderer, a.comparator, a.store, c.Logger, opts...)
	return a, nil
}

func (c *CLI) newRenderer(cfg *config.Config, a *app) ports.Renderer {
	if cfg.Renderer.Engine == config.EngineChromium {
		r := browser.NewRenderer(browser.Config{
			RemoteURL: cfg.Renderer.ChromeURL,
			Binary:    cfg.Renderer.Binary,
			Timeout:   cfg.Renderer.Timeout,
			Defaults:  cfg.RenderOptions(),
			Logger:    c.Logger,
		})
		a.closers = append(a.closers, r.Close)
		return r
	}
	return wkhtml.NewRenderer(cfg.Renderer.Binary,
		wkhtml.WithDefaults(cfg.RenderOptions()),
		wkhtml.WithTimeout(cfg.Renderer.Timeout))
}

// notifier builds the configured report sinks. The log sink is always present.
func (c *CLI) notifier(cfg *config.Config) ports.Notifier {
	sinks := notify.Multi{notify.NewLog(c.Logger)}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.Notify.WebhookURL,
			notify.WithRetries(cfg.Notify.WebhookRetries),
			notify.WithLogger(c.Logger)))
	}
	if cfg.Notify.RedisAddr != "" {
		sinks = append(sinks, notify.NewRedis(cfg.Notify.RedisAddr, cfg.Notify.RedisPassword,
			cfg.Notify.RedisDB, cfg.Notify.RedisChannel))
	}
	return sinks
}

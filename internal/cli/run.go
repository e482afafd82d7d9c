package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"visualdiff/internal/api"
	"visualdiff/internal/core/errs"
	"visualdiff/internal/trigger"
)

// ErrDifferences is returned by `run --fail-on-diff` when any page is flagged.
var ErrDifferences = errors.New("visual differences found")

func (c *CLI) runCommand() *cobra.Command {
	var (
		flags      jobFlags
		failOnDiff bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create and execute a job, then report the result",
		Example: `  visualdiff run --base-a https://example.com --base-b https://staging.example.com -p /,/about
  visualdiff run -c visualdiff.yaml --fail-on-diff`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			if err := cfg.ValidateJob(); err != nil {
				return err
			}
			a, err := c.build(cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			sinks := c.notifier(cfg)
			defer sinks.Close()

			task := trigger.NewTask(a.orch, cfg.JobSpec(), sinks, c.Logger)
			summary, err := task.Run(cmd.Context())
			if err != nil && !errs.Is(err, errs.CodeNotify) {
				return err
			}
			job, jerr := a.orch.GetJob(cmd.Context(), summary.JobID)
			if jerr != nil {
				return jerr
			}
			c.printResults(job.Results)
			c.printSummary(summary)
			if err != nil {
				c.printWarning("Report delivery failed: %s", errs.UserMessage(err))
			}
			if failOnDiff && summary.IssueCount > 0 {
				return ErrDifferences
			}
			return nil
		},
	}
	flags.bindSpec(cmd)
	flags.bindEngine(cmd)
	cmd.Flags().BoolVar(&failOnDiff, "fail-on-diff", false, "exit with status 2 when any page is flagged")
	return cmd
}

func (c *CLI) doctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that rendering and storage are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a, err := c.build(cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			c.printField("Renderer", cfg.Renderer.Engine)
			c.printField("Version", a.renderer.Version(cmd.Context()))
			c.printField("Comparator", a.comparator.Method())
			c.printField("Storage", cfg.StorageDir)

			var problems []error
			if a.renderer.IsAvailable() {
				c.printSuccess("%s is available", cfg.Renderer.Engine)
			} else {
				c.printError("%s is not available", cfg.Renderer.Engine)
				problems = append(problems, errs.New(errs.CodeRender, "%s is not available", cfg.Renderer.Engine))
			}
			if err := checkWritable(cfg.StorageDir); err != nil {
				c.printError("storage directory is not writable: %v", err)
				problems = append(problems, errs.Wrap(errs.CodeStorage, err, "storage directory %s is not writable", cfg.StorageDir))
			} else {
				c.printSuccess("storage directory is writable")
			}
			return errors.Join(problems...)
		},
	}
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(f.Name())
}

func (c *CLI) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled comparisons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			scheduled := cfg.Server.ScheduleInterval > 0
			if scheduled {
				if err := cfg.ValidateJob(); err != nil {
					return err
				}
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			a, err := c.build(cfg, reg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			apiSrv := api.New(a.orch, a.store, c.Logger, api.WithMetrics(reg), api.WithBaseContext(ctx))
			httpSrv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           apiSrv.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				c.Logger.Info("listening", "addr", cfg.Server.Addr, "storage", cfg.StorageDir)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				err := httpSrv.Shutdown(shutdownCtx)
				apiSrv.Wait()
				return err
			})
			if scheduled {
				sinks := c.notifier(cfg)
				defer sinks.Close()
				task := trigger.NewTask(a.orch, cfg.JobSpec(), sinks, c.Logger)
				g.Go(func() error { return task.Schedule(gctx, cfg.Server.ScheduleInterval) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address (overrides config)")
	return cmd
}

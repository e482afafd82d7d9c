package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"visualdiff/internal/config"
	"visualdiff/internal/core/domain"
)

// jobFlags override the configured job and engine settings.
type jobFlags struct {
	baseA       string
	baseB       string
	pages       []string
	threshold   float64
	concurrency int
	method      string
	engine      string
}

func (f *jobFlags) bindSpec(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.baseA, "base-a", "", "reference base URL")
	cmd.Flags().StringVar(&f.baseB, "base-b", "", "candidate base URL")
	cmd.Flags().StringSliceVarP(&f.pages, "pages", "p", nil, "page paths to compare (repeat or comma-separate)")
	cmd.Flags().Float64VarP(&f.threshold, "threshold", "t", 1.0, "difference percentage at which a page is flagged")
}

func (f *jobFlags) bindEngine(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.concurrency, "concurrency", "j", 1, "pages processed at once")
	cmd.Flags().StringVar(&f.method, "method", "", "comparison method: auto, mse or pixel")
	cmd.Flags().StringVar(&f.engine, "engine", "", "renderer: wkhtmltoimage or chromium")
}

// apply copies every flag the user set onto cfg.
func (f *jobFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("base-a") {
		cfg.Job.BaseURLA = f.baseA
	}
	if set("base-b") {
		cfg.Job.BaseURLB = f.baseB
	}
	if set("pages") {
		cfg.Job.Pages = f.pages
	}
	if set("threshold") {
		cfg.Job.Threshold = f.threshold
	}
	if set("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if set("method") {
		cfg.Comparator.Method = f.method
	}
	if set("engine") {
		cfg.Renderer.Engine = f.engine
	}
}

func (c *CLI) createCommand() *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pending job without running it",
		Args:  cobra.NoArgs,
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

			id, err := a.orch.CreateJob(cmd.Context(), cfg.JobSpec())
			if err != nil {
				return err
			}
			c.printSuccess("Created %s", styleTitle.Render(id))
			return nil
		},
	}
	flags.bindSpec(cmd)
	return cmd
}

func (c *CLI) executeCommand() *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   "execute <job-id>",
		Short: "Run every page of a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			a, err := c.build(cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			prog := newProgress(c.Logger)
			results, err := a.orch.ExecuteJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			prog.done(fmt.Sprintf("Compared %d pages", len(results)))
			c.printResults(results)
			return nil
		},
	}
	flags.bindEngine(cmd)
	return cmd
}

func (c *CLI) showCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Print a job and its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.buildFromConfig()
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := a.orch.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return c.writeJSON(job)
			}
			c.printJob(job)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the stored record as JSON")
	return cmd
}

func (c *CLI) issuesCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "issues <job-id>",
		Short: "Print the flagged pages of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.buildFromConfig()
			if err != nil {
				return err
			}
			defer a.Close()

			issues, err := a.orch.GetJobIssues(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return c.writeJSON(issues)
			}
			if len(issues) == 0 {
				c.printSuccess("No issues")
				return nil
			}
			c.printResults(issues)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print issues as JSON")
	return cmd
}

func (c *CLI) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.buildFromConfig()
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := a.orch.ListJobs(cmd.Context())
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				c.printInfo("No jobs in %s", a.cfg.StorageDir)
				return nil
			}
			for _, j := range jobs {
				c.printInfo("%s  %-9s  %d pages  %s",
					styleTitle.Render(j.ID), j.Status, len(j.Pages), issueLabel(j))
			}
			return nil
		},
	}
}

func issueLabel(j *domain.Job) string {
	if j.Status != domain.StatusCompleted {
		return styleDim.Render("-")
	}
	n := len(j.Issues())
	if n == 0 {
		return styleSuccess.Render("no issues")
	}
	return styleWarning.Render(fmt.Sprintf("%d issues", n))
}

func (c *CLI) pruneCommand() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.buildFromConfig()
			if err != nil {
				return err
			}
			defer a.Close()

			deleted, err := a.orch.PruneJobs(cmd.Context(), keep)
			if err != nil {
				return err
			}
			c.printSuccess("Deleted %d jobs", len(deleted))
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 10, "number of newest jobs to keep")
	return cmd
}

func (c *CLI) buildFromConfig() (*app, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return c.build(cfg, nil)
}

func (c *CLI) writeJSON(v any) error {
	enc := json.NewEncoder(c.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

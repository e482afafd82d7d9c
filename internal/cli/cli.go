// Package cli implements the visualdiff command-line interface.
//
// Commands:
//   - run: create and execute a job from configuration, then report it
//   - create, execute, show, issues, list, prune: manage stored jobs
//   - doctor: check the renderer and comparator setup
//   - serve: HTTP API with optional scheduled runs
//
// Configuration comes from an optional YAML file (--config), VISUALDIFF_*
// environment variables and flags, in increasing order of precedence.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"visualdiff/internal/config"
	"visualdiff/internal/core/ports"
)

const appName = "visualdiff"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
	Out    io.Writer

	configPath string
	storageDir string

	// levelPinned is set by SetLogLevel; log_level from config is then ignored.
	levelPinned bool

	// Test hooks; nil selects the configured implementation.
	renderer   ports.Renderer
	comparator ports.Comparator
}

// New creates a CLI whose logger writes to w.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.00",
			Level:           level,
		}),
		Out: os.Stdout,
	}
}

// SetLogLevel updates the logger's level. It takes precedence over the
// configured log_level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
	c.levelPinned = true
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "visualdiff compares screenshots of two deployments page by page",
		Long:         `visualdiff renders the same pages from two base URLs, diffs the screenshots pixel by pixel and flags pages whose difference reaches a threshold.`,
		Version:      Version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&c.storageDir, "storage-dir", "", "job storage directory (overrides config)")

	root.AddCommand(c.runCommand())
	root.AddCommand(c.createCommand())
	root.AddCommand(c.executeCommand())
	root.AddCommand(c.showCommand())
	root.AddCommand(c.issuesCommand())
	root.AddCommand(c.listCommand())
	root.AddCommand(c.pruneCommand())
	root.AddCommand(c.doctorCommand())
	root.AddCommand(c.serveCommand())
	return root
}

// Version is set at build time via -ldflags.
var Version = "dev"

// loadConfig reads configuration and applies the global flags.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.storageDir != "" {
		cfg.StorageDir = c.storageDir
	}
	if !c.levelPinned && cfg.LogLevel != "" {
		lvl, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
		}
		c.Logger.SetLevel(lvl)
	}
	return cfg, nil
}

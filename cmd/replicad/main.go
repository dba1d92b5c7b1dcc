package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/replicad/replicad/internal/config"
	"github.com/replicad/replicad/internal/mirror"
	"github.com/replicad/replicad/internal/scheduler"
	"github.com/replicad/replicad/internal/trigger"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	logFile   string

	// Path/interval overrides
	sourceDir  string
	replicaDir string
	interval   time.Duration
	dryRun     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "replicad",
	Short: "One-way directory mirroring daemon",
	Long: `replicad mirrors a source directory tree onto a replica directory tree.
After each synchronization pass the replica's directory structure and file
contents exactly match the source; the source is always authoritative.

It can run a single pass, a periodic loop on a fixed interval, or an HTTP
server that syncs on demand.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Perform a one-time sync pass from source to replica",
	Long: `Sync snapshots both directory trees, computes the plan of filesystem
operations needed to make the replica match the source, and applies it.

Files are compared by content fingerprint, so unchanged files are never
copied. Failed operations are retried and reported without aborting the
rest of the pass.`,
	RunE: runSync,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run sync passes periodically until interrupted",
	Long: `Watch runs a sync pass immediately and then repeats it on the configured
interval, measured from the end of one pass to the start of the next.
Passes never overlap.

SIGINT or SIGTERM stops the loop cooperatively: an in-flight pass always
completes before the program exits.`,
	RunE: runWatch,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger server",
	Long: `Serve performs an initial sync pass and then listens for HTTP requests:
POST /sync triggers an immediate pass and GET /status reports the most
recent pass result.

Requests can optionally be authenticated with a shared token configured
via serve.auth_token_file.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("replicad %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/replicad/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also append log output to this file")
	rootCmd.PersistentFlags().StringVar(&sourceDir, "source", "", "source directory (overrides config file)")
	rootCmd.PersistentFlags().StringVar(&replicaDir, "replica", "", "replica directory (overrides config file)")
	rootCmd.PersistentFlags().DurationVar(&interval, "interval", 0, "interval between passes (overrides config file)")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger, err := setupLogger()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := checkPaths(cfg); err != nil {
		logger.Error("path validation failed", "error", err)
		return err
	}

	engine := mirror.NewEngine(cfg, afero.NewOsFs(), logger, dryRun)

	result, err := engine.RunPass(ctx)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("sync completed with %d failed actions", len(result.Failed))
	}

	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger, err := setupLogger()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := checkPaths(cfg); err != nil {
		logger.Error("path validation failed", "error", err)
		return err
	}

	engine := mirror.NewEngine(cfg, afero.NewOsFs(), logger, false)
	loop := scheduler.NewLoop(engine, cfg.Sync.Interval.Std(), logger)

	if err := loop.Start(ctx); err != nil {
		return err
	}

	// Block until SIGINT/SIGTERM, then let the in-flight pass finish.
	<-ctx.Done()
	loop.Stop()
	logger.Info("replicad stopped")

	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger, err := setupLogger()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !cfg.Serve.Enabled {
		return fmt.Errorf("serve is not enabled in the configuration (set serve.enabled: true)")
	}

	if err := checkPaths(cfg); err != nil {
		logger.Error("path validation failed", "error", err)
		return err
	}

	engine := mirror.NewEngine(cfg, afero.NewOsFs(), logger, false)

	server, err := trigger.NewServer(cfg, engine, logger)
	if err != nil {
		return err
	}

	return server.Start(ctx)
}

func setupLogger() (*slog.Logger, error) {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Log to stdout, optionally teeing into a file
	var out io.Writer = os.Stdout
	if logFile != "" {
		f, err := os.OpenFile(os.ExpandEnv(logFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler), nil
}

// loadConfig resolves the effective configuration: either the YAML config
// file, or a config built from the --source/--replica flags, with the
// --interval flag overriding in both cases.
func loadConfig(logger *slog.Logger) (*config.Config, error) {
	if sourceDir != "" || replicaDir != "" {
		return configFromFlags(logger)
	}

	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/replicad/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if interval > 0 {
		cfg.Sync.Interval = config.Duration(interval)
	}

	logger.Debug("configuration loaded",
		"source", cfg.Paths.Source,
		"replica", cfg.Paths.Replica,
		"interval", cfg.Sync.Interval.Std().String())

	return cfg, nil
}

// configFromFlags builds a configuration from command-line flags alone
func configFromFlags(logger *slog.Logger) (*config.Config, error) {
	source, err := filepath.Abs(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source path: %w", err)
	}
	replica, err := filepath.Abs(replicaDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve replica path: %w", err)
	}

	cfg := &config.Config{
		Paths: config.PathsConfig{Source: source, Replica: replica},
	}
	if interval > 0 {
		cfg.Sync.Interval = config.Duration(interval)
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Debug("configuration from flags",
		"source", cfg.Paths.Source,
		"replica", cfg.Paths.Replica,
		"interval", cfg.Sync.Interval.Std().String())

	return cfg, nil
}

// checkPaths verifies both trees exist before any sync loop starts. The
// core components assume validated paths; a bad path here is fatal to the
// program, never entered into the loop.
func checkPaths(cfg *config.Config) error {
	for _, p := range []struct {
		field string
		path  string
	}{
		{"paths.source", cfg.Paths.Source},
		{"paths.replica", cfg.Paths.Replica},
	} {
		info, err := os.Stat(p.path)
		if err != nil {
			return &config.ValidationError{Field: p.field, Reason: fmt.Sprintf("cannot access %s: %v", p.path, err)}
		}
		if !info.IsDir() {
			return &config.ValidationError{Field: p.field, Reason: fmt.Sprintf("%s is not a directory", p.path)}
		}
	}
	return nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}

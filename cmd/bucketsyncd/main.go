package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/schaermu/bucketsyncd/internal/config"
	"github.com/schaermu/bucketsyncd/internal/store"
	"github.com/schaermu/bucketsyncd/internal/sync"
	"github.com/schaermu/bucketsyncd/internal/webhook"
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
	dryRun    bool
	output    string

	// newStoreClient builds the store client for a configuration; replaced in tests.
	newStoreClient = func(ctx context.Context, cfg *config.Config) (store.Client, error) {
		return store.New(ctx, cfg.StoreOptions())
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bucketsyncd",
	Short: "Mirror an object store bucket into a local directory",
	Long: `bucketsyncd mirrors the objects below a bucket prefix into a local working
directory. Each cycle lists both sides, reports created, updated and deleted
files, and downloads or removes files when sync.auto_get_source is enabled.

It can run as a oneshot sync (via systemd timer) or as a long-running webhook
daemon that responds to S3 / MinIO bucket notifications.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Perform one sync cycle from the bucket to the working directory",
	Long: `Sync lists the configured bucket prefix and the working directory, reports
the differences and, when sync.auto_get_source is enabled, applies them:
new and changed objects are downloaded with their remote modification time,
files without a remote counterpart are deleted together with directories
that become empty.`,
	RunE: runSync,
}

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show the changes the next sync would apply",
	Long: `Diff lists the configured bucket prefix and the working directory and prints
the detected changes without touching the working directory.`,
	RunE: runDiff,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook daemon",
	Long: `Serve performs an initial sync and then listens for S3 / MinIO bucket
notifications, running a debounced sync whenever an object below the
configured prefix changes. Optionally syncs periodically (serve.poll_interval).

Requires serve.enabled and serve.webhook_token_file in the configuration.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "bucketsyncd %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/bucketsyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	// Diff command flags
	diffCmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json)")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger(os.Stdout)

	cfg, client, err := setup(ctx, logger)
	if err != nil {
		return err
	}

	engine := sync.NewEngine(cfg, client, logger, dryRun)

	logger.Info("starting sync operation")
	if err := engine.Run(ctx); err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	if output != "text" && output != "json" {
		return fmt.Errorf("invalid output format %q (must be text or json)", output)
	}

	ctx, cancel := setupSignalHandler()
	defer cancel()

	// stdout carries the diff
	logger := setupLogger(os.Stderr)

	cfg, client, err := setup(ctx, logger)
	if err != nil {
		return err
	}

	cycle := sync.NewEngine(cfg, client, logger, true).NewCycle()
	changes, err := cycle.Modifications(ctx)
	if err != nil {
		logger.Error("diff failed", "error", err)
		return err
	}

	if output == "json" {
		return writeJSON(cmd.OutOrStdout(), changes)
	}
	return writeTable(cmd.OutOrStdout(), changes)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger(os.Stdout)

	cfg, client, err := setup(ctx, logger)
	if err != nil {
		return err
	}

	if !cfg.Serve.Enabled {
		return fmt.Errorf("serve.enabled is false in %s", configPath())
	}

	server, err := webhook.NewServer(cfg, client, logger)
	if err != nil {
		return fmt.Errorf("failed to create webhook server: %w", err)
	}

	if err := server.Start(ctx); err != nil {
		logger.Error("webhook server failed", "error", err)
		return err
	}
	return nil
}

// setup loads the configuration and builds the store client.
func setup(ctx context.Context, logger *slog.Logger) (*config.Config, store.Client, error) {
	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	client, err := newStoreClient(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store client: %w", err)
	}

	return cfg, client, nil
}

func writeJSON(w io.Writer, changes []sync.Change) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(changes)
}

func writeTable(w io.Writer, changes []sync.Change) error {
	if len(changes) == 0 {
		_, err := fmt.Fprintln(w, "no changes")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KIND\tPATH\tMODIFIED\tSIZE")
	for _, c := range changes {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n",
			c.Kind, c.DisplayPath(), c.Timestamp.UTC().Format(sync.LastModifiedKeyLayout), c.Size)
	}
	return tw.Flush()
}

func setupLogger(w io.Writer) *slog.Logger {
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

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// configPath returns the --config value or the default location.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "$HOME/.config/bucketsyncd/config.yaml"
	}
	return fmt.Sprintf("%s/.config/bucketsyncd/config.yaml", home)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	path := configPath()
	logger.Info("loading configuration", "path", path)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"backend", cfg.Store.Backend,
		"bucket", cfg.Store.Bucket,
		"prefix", cfg.Store.Prefix,
		"work_dir", cfg.Paths.WorkDir,
		"auto_get_source", cfg.Sync.AutoGetSource)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/subreddit-archiver/internal/app"
	"github.com/JakeFAU/subreddit-archiver/internal/config"
	"github.com/JakeFAU/subreddit-archiver/internal/logging"
)

// runner is what the archive command drives. It is satisfied by *app.App.
type runner interface {
	Run(ctx context.Context) error
	RunID() string
}

// newRunner is the application factory. It's a variable so tests can
// replace it.
var newRunner = func(cfg config.Config, logger *zap.Logger) (runner, error) {
	return app.Build(cfg, logger)
}

// newArchiveCmd creates the 'archive' subcommand.
func newArchiveCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archives one subreddit",
		Long: `Runs one complete archive pass: every configured listing view is read
to exhaustion and each distinct post is written exactly once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runArchiveCommand(cmd, root)
		},
	}
	cmd.Flags().String("subreddit", "", "subreddit to archive (overrides source.subreddit)")
	cmd.Flags().Int("workers", 0, "number of concurrent workers (overrides pipeline.workers)")
	cmd.Flags().String("out", "", "output directory (overrides archive.dir)")
	cmd.Flags().String("status-addr", "", "serve /status and /metrics on this address (overrides server.addr)")
	return cmd
}

func runArchiveCommand(cmd *cobra.Command, root *rootOptions) error {
	flags := cmd.Flags()
	cfg, err := config.Load(root.configFile,
		config.WithEnvFile(root.envFile),
		config.WithFlag("source.subreddit", flags.Lookup("subreddit")),
		config.WithFlag("pipeline.workers", flags.Lookup("workers")),
		config.WithFlag("archive.dir", flags.Lookup("out")),
		config.WithFlag("server.addr", flags.Lookup("status-addr")),
	)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil && !errors.Is(syncErr, syscall.EINVAL) {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := newRunner(cfg, logger)
	if err != nil {
		return fmt.Errorf("init archiver: %w", err)
	}
	if err := r.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			logger.Warn("Archive interrupted; files were closed", zap.String("run_id", r.RunID()))
			return nil
		}
		return fmt.Errorf("run archiver: %w", err)
	}

	logger.Info("Archive command finished.", zap.String("run_id", r.RunID()))
	return nil
}

// Package cmd defines and implements the CLI commands for the archiver
// executable.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/subreddit-archiver/internal/logging"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configFile string
	envFile    string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "archiver",
		Short: "Archives a subreddit's posts, comments and linked page titles.",
		Long: `archiver walks the hot, new, top and rising listings of a subreddit,
expands every post's comment tree, resolves the titles of linked pages and
appends one JSON record per post to size-rotated archive files, alongside a
CSV index of post ids and creation dates.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML, optional)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with credentials; ignored when missing")

	cmd.AddCommand(newArchiveCmd(opts))

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		logger, lerr := logging.New(true)
		if lerr != nil {
			os.Exit(1)
		}
		logger.Fatal("Command execution failed", zap.Error(err))
	}
}

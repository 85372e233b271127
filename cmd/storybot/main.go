package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"storybot/internal/config"
	"storybot/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "storybot",
	Short: "storybot - collaborative storytelling with a text-generation backend",
	Long: `storybot writes stories together with a user, one turn at a time.

A short wizard picks the genre, main character and setting; after that the
user and the model take turns continuing the story. Every turn is stored in
SQLite and counted against per-user session and token budgets.

Run "storybot chat --user ID" to talk to the bot from the terminal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// config init must work without a valid config on disk
		if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
			logger = zap.NewNop()
			return nil
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", configPath, err)
		}
		cfg = loaded

		opts := cfg.LoggingOptions()
		if verbose {
			opts.Level = "debug"
		}
		if err := logging.Initialize(opts); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = logging.Base()
		logger.Debug("Configuration loaded", zap.String("path", configPath), zap.String("db", cfg.Store.DatabasePath))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "storybot.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	chatCmd.Flags().Int64VarP(&chatUser, "user", "u", 1, "User id to chat as")
	storyCmd.Flags().Int64VarP(&storyUser, "user", "u", 0, "User id whose latest story to print (required)")
	_ = storyCmd.MarkFlagRequired("user")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(chatCmd, usageCmd, storyCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

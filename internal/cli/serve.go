package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unstuckgg/voicegate/internal/config"
	"github.com/unstuckgg/voicegate/internal/daemon"
	"github.com/unstuckgg/voicegate/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the voicegate daemon",
	Long: `Run the voicegate daemon in the foreground.
The daemon serves the WebSocket voice protocol until it receives
SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// An explicit flag wins over the config file
	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Block until a shutdown signal arrives
	d.Wait()

	return nil
}

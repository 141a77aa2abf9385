package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unstuckgg/voicegate/internal/config"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration",
	Long: `Load the configuration, apply environment overrides, and report
every problem found without starting the daemon.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config: %s\n", loader.GetConfigPath())

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	// Advisory checks, e.g. API key formats; these never fail the command
	for _, problem := range config.NewValidator().ValidateConfig(cfg) {
		fmt.Fprintf(out, "warning: %v\n", problem)
	}

	fmt.Fprintln(out, "Configuration OK")
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbocsi/vshadow/config"
	"github.com/mbocsi/vshadow/producer"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a vshadow configuration file without starting the server.

The YAML is parsed, environment variables are expanded, every field is
checked, and the signal catalogue it points at is loaded.

Example:
  vshadow validate -c vshadow.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	signals, err := producer.LoadCatalog(cfg.SignalsFile)
	if err != nil {
		return fmt.Errorf("invalid signal catalogue: %w", err)
	}

	catalogue := cfg.SignalsFile
	if catalogue == "" {
		catalogue = "built-in"
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Signals:   %d (%s)\n", len(signals), catalogue)
	fmt.Fprintf(out, "  TCP:       %s\n", listener(cfg.TCP.Enabled, cfg.TCP.Addr))
	fmt.Fprintf(out, "  WebSocket: %s\n", listener(cfg.WebSocket.Enabled, cfg.WebSocket.Addr))
	fmt.Fprintf(out, "  Web:       %s\n", listener(cfg.Web.Enabled, cfg.Web.Addr))
	fmt.Fprintf(out, "  Lock TTL:  %s\n", cfg.Store.LockTTL.Duration())
	return nil
}

func listener(enabled bool, addr string) string {
	if !enabled {
		return "disabled"
	}
	return addr
}

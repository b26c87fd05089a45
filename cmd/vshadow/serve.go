package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbocsi/vshadow/config"
	"github.com/mbocsi/vshadow/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the shadow server",
	Long: `Start the vshadow server.

Without a config file every surface runs with its defaults: TCP on :50051,
WebSocket on :50052 and the JSON API on :8080, serving the built-in vehicle
catalogue. The server runs until interrupted (Ctrl+C) or it receives SIGTERM.

When the MCP server is enabled it owns stdin and stdout, and logs go to
stderr.

Example:
  vshadow serve
  vshadow serve -c /etc/vshadow/vshadow.yaml
  vshadow serve --simulate`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file")
	serveCmd.Flags().Bool("simulate", false, "drive the vehicle signals with the built-in simulator")
	serveCmd.Flags().Bool("mcp", false, "serve MCP tools over stdio")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(path)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if simulate, _ := cmd.Flags().GetBool("simulate"); simulate {
		cfg.Simulator.Enabled = true
	}
	if mcp, _ := cmd.Flags().GetBool("mcp"); mcp {
		cfg.MCP.Enabled = true
	}

	var logOut io.Writer = os.Stdout
	if cfg.MCP.Enabled {
		logOut = os.Stderr
	}
	if err := server.SetupLogger(cfg.Log, logOut); err != nil {
		return err
	}

	s, err := server.NewShadowServer(server.ShadowServerOptions{Config: cfg, Version: version})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			slog.Info("Shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			slog.Warn("Shutdown timed out", "timeout", shutdownTimeout.String())
			return nil
		}
	}
}

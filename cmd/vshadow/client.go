package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbocsi/vshadow/client"
	"github.com/mbocsi/vshadow/proto"
)

const defaultAddr = "localhost:50051"

var (
	clientAddr     string
	clientWS       bool
	clientDiscover bool
	clientTimeout  time.Duration
	setToken       string
)

var getCmd = &cobra.Command{
	Use:   "get PATH...",
	Short: "Read signals from a running server",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGet,
}

var setCmd = &cobra.Command{
	Use:   "set PATH VALUE",
	Short: "Write one signal value",
	Long: `Write one signal value. The value is parsed according to the signal's
data type, which is read from the server first.

Example:
  vshadow set Vehicle.Speed 42.5
  vshadow set Vehicle.Lights.Headlights true --token 3f1c...`,
	Args: cobra.ExactArgs(2),
	RunE: runSet,
}

var lockCmd = &cobra.Command{
	Use:   "lock PATH...",
	Short: "Lock signals and print the token",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLock,
}

var unlockCmd = &cobra.Command{
	Use:   "unlock TOKEN",
	Short: "Release every lock held by a token",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnlock,
}

var watchCmd = &cobra.Command{
	Use:   "watch PATH...",
	Short: "Stream signal updates until interrupted",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWatch,
}

func init() {
	for _, cmd := range []*cobra.Command{getCmd, setCmd, lockCmd, unlockCmd, watchCmd} {
		cmd.Flags().StringVarP(&clientAddr, "addr", "a", defaultAddr, "server address")
		cmd.Flags().BoolVar(&clientWS, "ws", false, "connect over WebSocket instead of TCP")
		cmd.Flags().BoolVar(&clientDiscover, "discover", false, "find the server with mDNS instead of --addr")
		cmd.Flags().DurationVar(&clientTimeout, "timeout", client.DefaultTimeout, "reply timeout")
		rootCmd.AddCommand(cmd)
	}
	setCmd.Flags().StringVarP(&setToken, "token", "t", "", "lock token")
}

func dial(ctx context.Context) (*client.Client, error) {
	if clientDiscover {
		discover := client.DiscoverTCPService
		if clientWS {
			discover = client.DiscoverWebSocketService
		}
		service, err := discover(ctx, clientTimeout)
		if err != nil {
			return nil, err
		}
		return service.Dial(ctx, client.WithTimeout(clientTimeout))
	}

	addr := clientAddr
	if clientWS {
		return client.DialWebSocket(ctx, addr, client.WithTimeout(clientTimeout))
	}
	return client.DialTCP(ctx, addr, client.WithTimeout(clientTimeout))
}

func runGet(cmd *cobra.Command, args []string) error {
	c, err := dial(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.Get(cmd.Context(), args...)
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.ErrorMessage)
	}

	found := make(map[string]bool, len(resp.Signals))
	for _, sig := range resp.Signals {
		printSignal(cmd.OutOrStdout(), sig)
		found[sig.Path] = true
	}
	var missing []string
	for _, path := range args {
		if !found[path] {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("signal not found: %s", strings.Join(missing, ", "))
	}
	return nil
}

func runSet(cmd *cobra.Command, args []string) error {
	path, text := args[0], args[1]

	c, err := dial(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	current, err := c.Get(cmd.Context(), path)
	if err != nil {
		return err
	}
	if !current.Success {
		return errors.New(current.ErrorMessage)
	}
	if len(current.Signals) != 1 {
		return fmt.Errorf("signal not found: %s", path)
	}

	value, err := proto.ParseValue(current.Signals[0].Config.DataType, text)
	if err != nil {
		return err
	}

	resp, err := c.SetValue(cmd.Context(), path, value, setToken)
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.ErrorMessage)
	}
	for _, r := range resp.Results {
		if !r.Success {
			return fmt.Errorf("%s: %s", r.Path, r.ErrorMessage)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", path, value)
	return nil
}

func runLock(cmd *cobra.Command, args []string) error {
	c, err := dial(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.Lock(cmd.Context(), args...)
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.ErrorMessage)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
	return nil
}

func runUnlock(cmd *cobra.Command, args []string) error {
	c, err := dial(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.Unlock(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.ErrorMessage)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := dial(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	sub, err := c.Subscribe(ctx, args...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			closeCtx, cancel := context.WithTimeout(context.Background(), clientTimeout)
			defer cancel()
			return sub.Close(closeCtx)
		case item, ok := <-sub.Updates():
			if !ok {
				return sub.Err()
			}
			if item.ErrorMessage != "" {
				fmt.Fprintf(out, "error: %s\n", item.ErrorMessage)
				continue
			}
			printSignal(out, *item.Signal)
		}
	}
}

func printSignal(w io.Writer, sig proto.Signal) {
	var flags []string
	if !sig.State.Capability {
		flags = append(flags, "unsupported")
	}
	if !sig.State.Availability {
		flags = append(flags, "unavailable")
	}

	line := fmt.Sprintf("%s = %s", sig.Path, sig.State.Value)
	if sig.Config.Unit != "" {
		line += " " + sig.Config.Unit
	}
	if len(flags) > 0 {
		line += " (" + strings.Join(flags, ", ") + ")"
	}
	fmt.Fprintln(w, line)
}

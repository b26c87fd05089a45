package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"
)

// MCPServer serves an MCP tool server over stdio alongside the transports.
type MCPServer struct {
	Server *server.MCPServer

	in  io.Reader
	out io.Writer
}

func NewMCPServer(version string) *MCPServer {
	return &MCPServer{
		Server: server.NewMCPServer("vshadow", version, server.WithToolCapabilities(false)),
		in:     os.Stdin,
		out:    os.Stdout,
	}
}

// SetIO replaces stdin/stdout, mainly for tests.
func (s *MCPServer) SetIO(in io.Reader, out io.Writer) {
	s.in = in
	s.out = out
}

// Start serves until ctx is cancelled or the input is closed.
func (s *MCPServer) Start(ctx context.Context) error {
	slog.Info("Started stdio MCP server")
	defer func() {
		slog.Info("Shut down stdio MCP server")
	}()

	err := server.NewStdioServer(s.Server).Listen(ctx, s.in, s.out)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

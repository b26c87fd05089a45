package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbocsi/vshadow/proto"
	"github.com/mbocsi/vshadow/services"
)

// Tools exposes the signal service to MCP clients.
type Tools struct {
	services *services.ServiceContainer
}

func NewTools(serviceContainer *services.ServiceContainer) *Tools {
	return &Tools{services: serviceContainer}
}

// Register adds every tool to s.
func (t *Tools) Register(s *server.MCPServer) {
	t.registerSignalTools(s)
	t.registerLockTools(s)
	t.registerSystemTools(s)
}

func (t *Tools) registerSignalTools(s *server.MCPServer) {
	listSignalsTool := mcp.NewTool("list_signals",
		mcp.WithDescription("List every signal in the shadow store with its current state and configuration"),
	)
	s.AddTool(listSignalsTool, t.handleListSignals)

	getSignalsTool := mcp.NewTool("get_signals",
		mcp.WithDescription("Read the current state of one or more signals"),
		mcp.WithString("paths",
			mcp.Required(),
			mcp.Description("Comma-separated signal paths, e.g. Vehicle.Speed,Vehicle.Engine.RPM"),
		),
	)
	s.AddTool(getSignalsTool, t.handleGetSignals)

	setSignalTool := mcp.NewTool("set_signal",
		mcp.WithDescription("Write the value of one signal. Locked signals need the lock token"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Signal path"),
		),
		mcp.WithString("value",
			mcp.Required(),
			mcp.Description("New value in text form; it is parsed as the signal's data type"),
		),
		mcp.WithString("token",
			mcp.Description("Lock token, when the signal is locked by this caller"),
		),
	)
	s.AddTool(setSignalTool, t.handleSetSignal)
}

func (t *Tools) registerLockTools(s *server.MCPServer) {
	lockTool := mcp.NewTool("lock_signals",
		mcp.WithDescription("Lock one or more signals for exclusive writes. All paths are locked or none"),
		mcp.WithString("paths",
			mcp.Required(),
			mcp.Description("Comma-separated signal paths"),
		),
	)
	s.AddTool(lockTool, t.handleLockSignals)

	unlockTool := mcp.NewTool("unlock_signals",
		mcp.WithDescription("Release every lock held with a token"),
		mcp.WithString("token",
			mcp.Required(),
			mcp.Description("Token returned by lock_signals"),
		),
	)
	s.AddTool(unlockTool, t.handleUnlockSignals)

	listLocksTool := mcp.NewTool("list_locks",
		mcp.WithDescription("List the locks currently held"),
	)
	s.AddTool(listLocksTool, t.handleListLocks)

	forceUnlockTool := mcp.NewTool("force_unlock",
		mcp.WithDescription("Release the lock on a signal regardless of its holder"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Signal path"),
		),
	)
	s.AddTool(forceUnlockTool, t.handleForceUnlock)
}

func (t *Tools) registerSystemTools(s *server.MCPServer) {
	statusTool := mcp.NewTool("get_system_status",
		mcp.WithDescription("Get signal, lock and transport counts"),
		mcp.WithBoolean("include_transports",
			mcp.Description("Include transport information"),
		),
	)
	s.AddTool(statusTool, t.handleGetSystemStatus)
}

func (t *Tools) handleListSignals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	signals := t.services.Signals.List()
	return jsonResult(map[string]interface{}{
		"signals": signals,
		"count":   len(signals),
	})
}

func (t *Tools) handleGetSignals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("paths")
	if err != nil {
		return mcp.NewToolResultError("paths is required and must be a string"), nil
	}
	resp := t.services.Signals.Get(proto.GetRequest{Paths: splitPaths(raw)})
	return jsonResult(resp)
}

func (t *Tools) handleSetSignal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("path is required and must be a string"), nil
	}
	text, err := request.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError("value is required and must be a string"), nil
	}
	token := request.GetString("token", "")

	current := t.services.Signals.Get(proto.GetRequest{Paths: []string{path}})
	if len(current.Signals) == 0 {
		return mcp.NewToolResultError(services.MsgNotFound + ": " + path), nil
	}
	value, err := proto.ParseValue(current.Signals[0].Config.DataType, text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp := t.services.Signals.Set(proto.SetRequest{
		Signals: []proto.SetSignalRequest{{Path: path, State: proto.StatePatch{Value: &value}}},
		Token:   token,
	})
	if !resp.Success {
		return mcp.NewToolResultError(resp.ErrorMessage), nil
	}
	// The batch flag stays true for item failures; the item result decides.
	if len(resp.Results) != 1 {
		return mcp.NewToolResultError(fmt.Sprintf("expected 1 result, got %d", len(resp.Results))), nil
	}
	if result := resp.Results[0]; !result.Success {
		return mcp.NewToolResultError(result.ErrorMessage), nil
	}
	slog.Debug("Signal set over MCP", "path", path, "value", value.String())
	return mcp.NewToolResultText(fmt.Sprintf("Set %s to %s", path, value)), nil
}

func (t *Tools) handleLockSignals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("paths")
	if err != nil {
		return mcp.NewToolResultError("paths is required and must be a string"), nil
	}
	resp := t.services.Signals.Lock(proto.LockRequest{Paths: splitPaths(raw)})
	if !resp.Success {
		return mcp.NewToolResultError(resp.ErrorMessage), nil
	}
	return jsonResult(resp)
}

func (t *Tools) handleUnlockSignals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := request.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError("token is required and must be a string"), nil
	}
	resp := t.services.Signals.Unlock(proto.UnlockRequest{Token: token})
	if !resp.Success {
		return mcp.NewToolResultError(resp.ErrorMessage), nil
	}
	return mcp.NewToolResultText("Released locks held by " + token), nil
}

func (t *Tools) handleListLocks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	locks := t.services.Signals.Locks()
	return jsonResult(map[string]interface{}{
		"locks": locks,
		"count": len(locks),
	})
}

func (t *Tools) handleForceUnlock(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("path is required and must be a string"), nil
	}
	token, err := t.services.Signals.ForceUnlock(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Released lock on %s held by %s", path, token)), nil
}

func (t *Tools) handleGetSystemStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	includeTransports := request.GetBool("include_transports", true)

	status := map[string]interface{}{
		"signals": len(t.services.Signals.List()),
		"locks":   len(t.services.Signals.Locks()),
	}
	if includeTransports && t.services.Transport != nil {
		if transports, err := t.services.Transport.ListTransports(); err == nil {
			status["transports"] = transports
		}
	}
	if t.services.Connections != nil {
		status["connections"] = len(t.services.Connections.Connections())
	}
	return jsonResult(status)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func splitPaths(raw string) []string {
	var paths []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

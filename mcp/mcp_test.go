package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/vshadow/proto"
	"github.com/mbocsi/vshadow/services"
	"github.com/mbocsi/vshadow/store"
)

func newTestTools(t *testing.T) (*Tools, *store.SignalStore) {
	t.Helper()
	st := store.NewSignalStore()
	require.NoError(t, st.Register(proto.Signal{
		Path:   "Vehicle.Speed",
		State:  proto.State{Value: proto.FloatValue(0), Capability: true, Availability: true},
		Config: proto.Config{LeafType: proto.LeafSensor, DataType: proto.TypeFloat, Unit: "km/h"},
	}))
	require.NoError(t, st.Register(proto.Signal{
		Path:   "Vehicle.Lights.Headlights",
		State:  proto.State{Value: proto.BoolValue(false), Capability: true, Availability: true},
		Config: proto.Config{LeafType: proto.LeafActuator, DataType: proto.TypeBool},
	}))
	return NewTools(&services.ServiceContainer{
		Signals:     services.NewSignalService(st),
		Transport:   services.NewTransportService(),
		Connections: connections{{ID: "ws-1", Protocol: "websocket"}},
	}), st
}

type connections []services.ConnectionInfo

func (c connections) Connections() []services.ConnectionInfo { return c }

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestRegister(t *testing.T) {
	tools, _ := newTestTools(t)
	s := server.NewMCPServer("vshadow-test", "0.0.0", server.WithToolCapabilities(false))
	assert.NotPanics(t, func() { tools.Register(s) })
}

func TestListAndGetSignals(t *testing.T) {
	tools, _ := newTestTools(t)

	res, err := tools.handleListSignals(context.Background(), call(nil))
	require.NoError(t, err)
	var listed struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &listed))
	assert.Equal(t, 2, listed.Count)

	res, err = tools.handleGetSignals(context.Background(), call(map[string]any{"paths": "Vehicle.Speed, Missing"}))
	require.NoError(t, err)
	var got proto.GetResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &got))
	require.Len(t, got.Signals, 1)
	assert.Equal(t, "Vehicle.Speed", got.Signals[0].Path)

	res, err = tools.handleGetSignals(context.Background(), call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSetSignalParsesByDataType(t *testing.T) {
	tools, st := newTestTools(t)

	res, err := tools.handleSetSignal(context.Background(), call(map[string]any{"path": "Vehicle.Speed", "value": "88.5"}))
	require.NoError(t, err)
	assert.False(t, res.IsError, resultText(t, res))
	sig, _ := st.Get("Vehicle.Speed")
	f, _ := sig.State.Value.Float()
	assert.Equal(t, float32(88.5), f)

	res, err = tools.handleSetSignal(context.Background(), call(map[string]any{"path": "Vehicle.Lights.Headlights", "value": "true"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = tools.handleSetSignal(context.Background(), call(map[string]any{"path": "Vehicle.Speed", "value": "fast"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = tools.handleSetSignal(context.Background(), call(map[string]any{"path": "Missing", "value": "1"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), services.MsgNotFound)
}

func TestLockFlow(t *testing.T) {
	tools, st := newTestTools(t)

	res, err := tools.handleLockSignals(context.Background(), call(map[string]any{"paths": "Vehicle.Speed"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	var locked proto.LockResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &locked))
	require.NotEmpty(t, locked.Token)

	res, err = tools.handleSetSignal(context.Background(), call(map[string]any{"path": "Vehicle.Speed", "value": "10"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, services.MsgLocked, resultText(t, res))
	sig, _ := st.Get("Vehicle.Speed")
	speed, _ := sig.State.Value.Float()
	assert.Zero(t, speed)

	res, err = tools.handleSetSignal(context.Background(), call(map[string]any{"path": "Vehicle.Speed", "value": "10", "token": locked.Token}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = tools.handleListLocks(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), `"count":1`)

	res, err = tools.handleUnlockSignals(context.Background(), call(map[string]any{"token": locked.Token}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.False(t, st.IsLocked("Vehicle.Speed"))
}

func TestForceUnlock(t *testing.T) {
	tools, st := newTestTools(t)
	require.True(t, st.Lock("Vehicle.Speed", "stale"))

	res, err := tools.handleForceUnlock(context.Background(), call(map[string]any{"path": "Vehicle.Speed"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "stale")
	assert.False(t, st.IsLocked("Vehicle.Speed"))

	res, err = tools.handleForceUnlock(context.Background(), call(map[string]any{"path": "Vehicle.Speed"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSystemStatus(t *testing.T) {
	tools, _ := newTestTools(t)

	res, err := tools.handleGetSystemStatus(context.Background(), call(map[string]any{"include_transports": false}))
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &status))
	assert.EqualValues(t, 2, status["signals"])
	assert.EqualValues(t, 1, status["connections"])
	assert.NotContains(t, status, "transports")
}

func TestSplitPaths(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, splitPaths(" A, ,B "))
	assert.Nil(t, splitPaths(""))
}

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mbocsi/vshadow/config"
	"github.com/mbocsi/vshadow/proto"
	"github.com/mbocsi/vshadow/server"
)

func startServer(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.TCP.Addr = "127.0.0.1:0"
	cfg.WebSocket.Enabled = false
	cfg.Web.Enabled = false

	s, err := server.NewShadowServer(server.ShadowServerOptions{Config: &cfg})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-s.TCP().Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}
	return s.TCP().ListenAddr()
}

func TestClientCommands(t *testing.T) {
	addr := startServer(t)
	defer func() { setToken = "" }()

	out, err := executeCmd(t, "lock", "Vehicle.Speed", "--addr", addr)
	if err != nil {
		t.Fatalf("lock error = %v", err)
	}
	token := strings.TrimSpace(out)
	if token == "" {
		t.Fatal("lock printed no token")
	}

	out, err = executeCmd(t, "set", "Vehicle.Speed", "42.5", "--addr", addr)
	if err == nil {
		t.Error("set without token expected to fail")
	} else if !strings.Contains(err.Error(), "Signal is locked by another client") {
		t.Errorf("unexpected set error %v", err)
	}
	if strings.Contains(out, "Vehicle.Speed = 42.5") {
		t.Errorf("rejected set printed a value: %q", out)
	}

	out, err = executeCmd(t, "set", "Vehicle.Speed", "42.5", "--addr", addr, "--token", token)
	if err != nil {
		t.Fatalf("set error = %v", err)
	}
	if !strings.Contains(out, "Vehicle.Speed = 42.5") {
		t.Errorf("unexpected set output %q", out)
	}

	if _, err := executeCmd(t, "unlock", token, "--addr", addr); err != nil {
		t.Fatalf("unlock error = %v", err)
	}

	out, err = executeCmd(t, "get", "Vehicle.Speed", "Vehicle.Doors.FrontLeft", "--addr", addr)
	if err != nil {
		t.Fatalf("get error = %v", err)
	}
	for _, want := range []string{"Vehicle.Speed = 42.5 km/h", "Vehicle.Doors.FrontLeft = false"} {
		if !strings.Contains(out, want) {
			t.Errorf("get output missing %q\nGot: %s", want, out)
		}
	}
}

func TestClientCommands_SetParsesByType(t *testing.T) {
	addr := startServer(t)

	if _, err := executeCmd(t, "set", "Vehicle.Engine.RPM", "fast", "--addr", addr); err == nil {
		t.Error("set with a non-numeric RPM expected to fail")
	}
	if _, err := executeCmd(t, "set", "Vehicle.Engine.RPM", "2500", "--addr", addr); err != nil {
		t.Errorf("set error = %v", err)
	}
}

func TestClientCommands_GetUnknown(t *testing.T) {
	addr := startServer(t)

	if _, err := executeCmd(t, "get", "Vehicle.Missing", "--addr", addr); err == nil {
		t.Error("get of an unknown path expected to fail")
	}
}

func TestPrintSignal(t *testing.T) {
	var buf bytes.Buffer
	printSignal(&buf, proto.Signal{
		Path:   "Vehicle.Speed",
		State:  proto.State{Value: proto.FloatValue(3), Capability: true},
		Config: proto.Config{Unit: "km/h"},
	})
	if got := buf.String(); got != "Vehicle.Speed = 3 km/h (unavailable)\n" {
		t.Errorf("unexpected output %q", got)
	}
}

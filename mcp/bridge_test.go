package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func descriptor(serverID, name string) ToolDescriptor {
	return ToolDescriptor{
		ServerID:    serverID,
		Name:        name,
		Description: name,
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}
}

func runningRegistry(t *testing.T, handle *fakeHandle, ids ...string) *Registry {
	t.Helper()
	r := NewRegistry(handle, nil, nil)
	for _, id := range ids {
		if err := r.AddServer(testConfig(id)); err != nil {
			t.Fatalf("add %s failed: %v", id, err)
		}
		if _, err := r.StartServer(context.Background(), id); err != nil {
			t.Fatalf("start %s failed: %v", id, err)
		}
	}
	return r
}

func TestBridgeRefreshCatalogPartialFailure(t *testing.T) {
	handle := newFakeHandle()
	handle.tools["fs"] = []ToolDescriptor{descriptor("fs", "read_file"), descriptor("fs", "write_file")}
	handle.tools["web"] = []ToolDescriptor{descriptor("web", "fetch")}
	handle.listErr["web"] = errors.New("connection reset")

	r := runningRegistry(t, handle, "fs", "web")
	b := NewBridge(r, handle)

	result := b.RefreshCatalog(context.Background())

	if len(result.Tools) != 2 {
		t.Fatalf("expected 2 tools from the healthy server, got %d", len(result.Tools))
	}
	for _, tool := range result.Tools {
		if tool.ServerID != "fs" {
			t.Errorf("unexpected tool from %s", tool.ServerID)
		}
	}
	if len(result.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(result.Failures))
	}
	if _, ok := result.Failures["web"]; !ok {
		t.Error("expected failure recorded for web")
	}
}

func TestBridgeRefreshCatalogStableOrder(t *testing.T) {
	handle := newFakeHandle()
	handle.tools["a"] = []ToolDescriptor{descriptor("a", "one")}
	handle.tools["b"] = []ToolDescriptor{descriptor("b", "two")}

	r := runningRegistry(t, handle, "a", "b")
	b := NewBridge(r, handle)

	result := b.RefreshCatalog(context.Background())
	if len(result.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(result.Tools))
	}
	if result.Tools[0].ServerID != "a" || result.Tools[1].ServerID != "b" {
		t.Errorf("catalog not in server order: %s, %s", result.Tools[0].ServerID, result.Tools[1].ServerID)
	}
}

func TestBridgeInvokeChecksStatusFresh(t *testing.T) {
	handle := newFakeHandle()
	r := runningRegistry(t, handle, "fs")
	b := NewBridge(r, handle)
	ctx := context.Background()

	if _, err := b.Invoke(ctx, "fs.read_file", `{}`); err != nil {
		t.Fatalf("invoke on running server failed: %v", err)
	}

	// Stop after the catalog would have been built; the next call must
	// be rejected, not routed to a dead process.
	if _, err := r.StopServer(ctx, "fs"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	_, err := b.Invoke(ctx, "fs.read_file", `{}`)
	if !errors.Is(err, ErrServerNotRunning) {
		t.Errorf("expected ErrServerNotRunning, got %v", err)
	}
	var execErr *ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ToolExecutionError, got %T", err)
	}
	if execErr.ServerID != "fs" || execErr.ToolName != "read_file" {
		t.Errorf("wrong attribution: %s.%s", execErr.ServerID, execErr.ToolName)
	}
}

func TestBridgeInvokeMalformedName(t *testing.T) {
	handle := newFakeHandle()
	b := NewBridge(runningRegistry(t, handle), handle)

	if _, err := b.Invoke(context.Background(), "no-namespace", `{}`); err == nil {
		t.Error("expected error for un-namespaced tool name")
	}
}

func TestBridgeInvokeAllMatchesByCallID(t *testing.T) {
	handle := newFakeHandle()
	handle.invokeFn = func(serverID, toolName, argsJSON string) (string, error) {
		if toolName == "boom" {
			return "", errors.New("tool crashed")
		}
		return toolName + "-output", nil
	}

	r := runningRegistry(t, handle, "fs")
	b := NewBridge(r, handle)

	reqs := []InvokeRequest{
		{CallID: "c1", ToolName: "fs.read_file", ArgsJSON: `{}`},
		{CallID: "c2", ToolName: "fs.boom", ArgsJSON: `{}`},
		{CallID: "c3", ToolName: "fs.list_dir", ArgsJSON: `{}`},
	}
	results := b.InvokeAll(context.Background(), reqs)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, req := range reqs {
		if results[i].CallID != req.CallID {
			t.Errorf("result %d: expected CallID %s, got %s", i, req.CallID, results[i].CallID)
		}
	}
	if results[0].Output != "read_file-output" {
		t.Errorf("unexpected output: %q", results[0].Output)
	}
	if results[1].Err == nil {
		t.Error("expected error for c2")
	}
	if results[2].Err != nil {
		t.Errorf("unexpected error for c3: %v", results[2].Err)
	}
}

func TestSplitModelName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		serverID string
		toolName string
	}{
		{"simple", "fs.read_file", "fs", "read_file"},
		{"dotted tool name", "fs.read.file", "fs", "read.file"},
		{"no separator", "plain", "", "plain"},
		{"empty", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serverID, toolName := SplitModelName(tt.input)
			if serverID != tt.serverID || toolName != tt.toolName {
				t.Errorf("SplitModelName(%q) = %q, %q; want %q, %q",
					tt.input, serverID, toolName, tt.serverID, tt.toolName)
			}
		})
	}
}

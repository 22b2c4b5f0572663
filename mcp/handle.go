package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"nore/config"
	"nore/events"
)

// serverProcess tracks one spawned tool server.
type serverProcess struct {
	id      string
	cmd     *exec.Cmd
	client  *client.Client
	running bool
}

// StdioHost is the shipped ProcessHandle implementation: it spawns tool
// servers as child processes and speaks MCP to them over stdio.
type StdioHost struct {
	mu        sync.RWMutex
	processes map[string]*serverProcess
	starting  map[string]bool
	bus       *events.Bus
}

func NewStdioHost(bus *events.Bus) *StdioHost {
	return &StdioHost{
		processes: make(map[string]*serverProcess),
		starting:  make(map[string]bool),
		bus:       bus,
	}
}

// reserve claims an id for the duration of a spawn so concurrent Start
// calls for the same server cannot both pass the running check.
func (h *StdioHost) reserve(serverID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.processes[serverID] != nil && h.processes[serverID].running:
		return fmt.Errorf("server %s already running", serverID)
	case h.starting[serverID]:
		return fmt.Errorf("server %s already starting", serverID)
	}
	h.starting[serverID] = true
	return nil
}

func (h *StdioHost) unreserve(serverID string) {
	h.mu.Lock()
	delete(h.starting, serverID)
	h.mu.Unlock()
}

// Start implements ProcessHandle. It blocks until the server process has
// completed the MCP initialize handshake.
func (h *StdioHost) Start(ctx context.Context, cfg ServerConfig) error {
	if err := h.reserve(cfg.ID); err != nil {
		return err
	}
	defer h.unreserve(cfg.ID)

	var capturedCmd *exec.Cmd
	cmdFunc := func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Env = env
		capturedCmd = cmd
		return cmd, nil
	}

	mcpClient, err := client.NewStdioMCPClientWithOptions(
		cfg.Command,
		buildEnv(cfg.Env),
		cfg.Args,
		transport.WithCommandFunc(cmdFunc),
	)
	if err != nil {
		return fmt.Errorf("failed to spawn server %s: %w", cfg.ID, err)
	}

	initReq := mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: "2025-06-18",
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    "Nore",
				Version: "1.0.0",
			},
		},
	}

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		// The process may be half-started; reap it before reporting.
		h.killProcess(cfg.ID, capturedCmd, mcpClient)
		return fmt.Errorf("failed to initialize server %s: %w", cfg.ID, err)
	}

	h.mu.Lock()
	h.processes[cfg.ID] = &serverProcess{
		id:      cfg.ID,
		cmd:     capturedCmd,
		client:  mcpClient,
		running: true,
	}
	h.mu.Unlock()

	switch {
	case capturedCmd != nil && capturedCmd.Process != nil && config.DebugLog != nil:
		config.DebugLog.Printf("[MCP] Started server %q with PID %d", cfg.ID, capturedCmd.Process.Pid)
	}

	if h.bus != nil {
		h.bus.Publish(events.ServerLog{ServerID: cfg.ID, Line: "process started"})
	}

	return nil
}

// Stop implements ProcessHandle. Unknown servers stop trivially.
func (h *StdioHost) Stop(ctx context.Context, serverID string) error {
	h.mu.Lock()
	proc, exists := h.processes[serverID]
	switch {
	case !exists:
		h.mu.Unlock()
		return nil
	}

	// Remove from the map immediately so it can't be used mid-teardown.
	proc.running = false
	delete(h.processes, serverID)
	h.mu.Unlock()

	h.killProcess(serverID, proc.cmd, proc.client)

	if h.bus != nil {
		h.bus.Publish(events.ServerLog{ServerID: serverID, Line: "process stopped"})
	}

	return nil
}

// killProcess closes the MCP client with a bounded wait and then kills
// the child process if the close did not take it down.
func (h *StdioHost) killProcess(serverID string, cmd *exec.Cmd, mcpClient *client.Client) {
	clientClosed := false
	switch {
	case mcpClient != nil:
		closeDone := make(chan error, 1)
		go func() {
			closeDone <- mcpClient.Close()
		}()

		select {
		case err := <-closeDone:
			clientClosed = err == nil
		case <-time.After(1 * time.Second):
			switch {
			case config.DebugLog != nil:
				config.DebugLog.Printf("[MCP] Close timeout for %q, killing process", serverID)
			}
		}
	}

	switch {
	case !clientClosed && cmd != nil && cmd.Process != nil:
		if err := cmd.Process.Kill(); err != nil {
			switch {
			case config.DebugLog != nil:
				config.DebugLog.Printf("[MCP] Error killing process for %q: %v", serverID, err)
			}
		}
	}
}

// ListTools implements ProcessHandle, querying the server live.
func (h *StdioHost) ListTools(ctx context.Context, serverID string) ([]ToolDescriptor, error) {
	mcpClient, err := h.clientFor(serverID)
	if err != nil {
		return nil, err
	}

	result, err := mcpClient.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools for %s: %w", serverID, err)
	}

	descriptors := make([]ToolDescriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			switch {
			case config.DebugLog != nil:
				config.DebugLog.Printf("[MCP] Dropping tool %s.%s: unmarshalable schema: %v", serverID, tool.Name, err)
			}
			continue
		}
		descriptors = append(descriptors, ToolDescriptor{
			ServerID:    serverID,
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	return descriptors, nil
}

// Invoke implements ProcessHandle. Arguments arrive as a JSON object and
// the result is returned as the JSON encoding of the tool's content.
func (h *StdioHost) Invoke(ctx context.Context, serverID, toolName, argsJSON string) (string, error) {
	mcpClient, err := h.clientFor(serverID)
	if err != nil {
		return "", err
	}

	args := make(map[string]any)
	switch {
	case argsJSON != "" && argsJSON != "null":
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid tool arguments for %s.%s: %w", serverID, toolName, err)
		}
	}

	result, err := mcpClient.CallTool(ctx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	})
	if err != nil {
		return "", err
	}

	if result.IsError {
		content, _ := json.Marshal(result.Content)
		return "", fmt.Errorf("tool reported error: %s", string(content))
	}

	switch {
	case len(result.Content) == 0:
		return `"tool executed successfully (no output)"`, nil
	}

	content, err := json.Marshal(result.Content)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool result: %w", err)
	}

	return string(content), nil
}

// Shutdown stops every tracked server in parallel.
func (h *StdioHost) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	ids := make([]string, 0, len(h.processes))
	for id := range h.processes {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	errChan := make(chan error, len(ids))

	for _, id := range ids {
		wg.Add(1)
		go func(serverID string) {
			defer wg.Done()
			if err := h.Stop(ctx, serverID); err != nil {
				errChan <- err
			}
		}(id)
	}

	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	return nil
}

func (h *StdioHost) clientFor(serverID string) (*client.Client, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	proc, exists := h.processes[serverID]
	if !exists || !proc.running {
		return nil, fmt.Errorf("server %s: %w", serverID, ErrServerNotRunning)
	}

	return proc.client, nil
}

func buildEnv(envMap map[string]string) []string {
	// Start with the current process environment to preserve PATH.
	env := os.Environ()
	for k, v := range envMap {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

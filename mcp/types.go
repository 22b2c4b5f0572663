package mcp

import (
	"context"
	"encoding/json"
	"strings"
)

// ServerStatus is the lifecycle status of a configured tool server.
type ServerStatus string

const (
	// StatusStopped means no process exists for the server.
	StatusStopped ServerStatus = "stopped"
	// StatusIdle is reserved for a server that holds a live process but
	// is not accepting calls. No shipped code path sets it; the registry
	// and bridge treat it as "not callable".
	StatusIdle ServerStatus = "idle"
	// StatusRunning means the process exists and acknowledged start.
	StatusRunning ServerStatus = "running"
)

// ServerConfig is the identity and launch recipe for one tool server.
type ServerConfig struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name,omitempty"`
	Description string            `json:"description,omitempty"`
	Icon        string            `json:"icon,omitempty"`
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// ServerConfigPatch holds optional replacement fields for UpdateServer.
// Nil fields are left untouched.
type ServerConfigPatch struct {
	Name        *string
	DisplayName *string
	Description *string
	Icon        *string
	Command     *string
	Args        []string
	Env         map[string]string
}

// ServerInfo pairs a config with its current status for ListServers.
type ServerInfo struct {
	Config ServerConfig
	Status ServerStatus
}

// ToolDescriptor is one capability advertised by a running server.
// Descriptors are ephemeral: rebuilt on every catalog refresh, never
// persisted.
type ToolDescriptor struct {
	ServerID    string
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ModelName returns the name the model sees for this tool. Tool names
// are only unique within a server, so they are namespaced with the
// server id.
func (t ToolDescriptor) ModelName() string {
	return t.ServerID + "." + t.Name
}

// SplitModelName splits a namespaced tool name back into server id and
// tool name. A name with no namespace returns an empty server id.
func SplitModelName(name string) (serverID, toolName string) {
	idx := strings.Index(name, ".")
	if idx == -1 {
		return "", name
	}
	return name[:idx], name[idx+1:]
}

// ProcessHandle is the capability that spawns and talks to tool server
// processes. Transport and failure details are its concern; the registry
// and bridge only consume acknowledgments and results.
type ProcessHandle interface {
	// Start launches the server and blocks until it acknowledges.
	Start(ctx context.Context, cfg ServerConfig) error

	// Stop terminates the server's process. Stopping an unknown server
	// is not an error.
	Stop(ctx context.Context, serverID string) error

	// ListTools queries the server for its current tool advertisements.
	ListTools(ctx context.Context, serverID string) ([]ToolDescriptor, error)

	// Invoke calls one tool with JSON-encoded arguments and returns the
	// JSON-encoded result.
	Invoke(ctx context.Context, serverID, toolName, argsJSON string) (string, error)
}

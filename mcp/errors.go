package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a server id is not in the catalog.
	ErrNotFound = errors.New("server not found")

	// ErrDuplicateID is returned by AddServer on an id collision.
	ErrDuplicateID = errors.New("server id already exists")

	// ErrServerNotRunning is returned when a tool is invoked against a
	// server whose current status is not running.
	ErrServerNotRunning = errors.New("server not running")
)

// ToolExecutionError wraps a remote tool failure. It propagates to the
// model turn as a tool-result error, never as a generation-fatal error.
type ToolExecutionError struct {
	ServerID string
	ToolName string
	Err      error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s.%s failed: %v", e.ServerID, e.ToolName, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

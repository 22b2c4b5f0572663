package mcp

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"nore/config"
)

// RefreshResult is a catalog snapshot. Tools holds every descriptor
// collected from servers that answered; Failures maps each server that
// did not to its error. A partial catalog is a valid catalog.
type RefreshResult struct {
	Tools    []ToolDescriptor
	Failures map[string]error
}

// InvokeRequest is one tool call addressed by model-facing name.
type InvokeRequest struct {
	CallID   string
	ToolName string
	ArgsJSON string
}

// InvokeResult pairs a tool call's outcome with the CallID it answers.
type InvokeResult struct {
	CallID string
	Output string
	Err    error
}

// Bridge exposes the running servers' tools to the generation side:
// catalog refresh across all running servers and invocation routed by
// the namespaced model-facing tool name.
type Bridge struct {
	registry *Registry
	handle   ProcessHandle
}

func NewBridge(registry *Registry, handle ProcessHandle) *Bridge {
	return &Bridge{registry: registry, handle: handle}
}

// RefreshCatalog queries every running server for its tools,
// concurrently. One slow or broken server never hides the others:
// its failure lands in Failures and the rest of the catalog stands.
func (b *Bridge) RefreshCatalog(ctx context.Context) RefreshResult {
	ids := b.registry.RunningIDs()
	result := RefreshResult{Failures: make(map[string]error)}
	if len(ids) == 0 {
		return result
	}

	var mu sync.Mutex
	perServer := make(map[string][]ToolDescriptor, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			tools, err := b.handle.ListTools(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures[id] = err
				switch {
				case config.DebugLog != nil:
					config.DebugLog.Printf("[MCP] Tool listing failed for %q: %v", id, err)
				}
				return nil
			}
			perServer[id] = tools
			return nil
		})
	}
	_ = g.Wait()

	// Assemble in catalog order so the tool list is stable across
	// refreshes regardless of which server answered first.
	for _, id := range ids {
		result.Tools = append(result.Tools, perServer[id]...)
	}
	return result
}

// Invoke routes a namespaced tool name to its server and executes the
// call. The server's status is checked fresh at call time; a server
// stopped since the catalog was built yields ErrServerNotRunning, not
// a write to a dead process.
func (b *Bridge) Invoke(ctx context.Context, toolName string, argsJSON string) (string, error) {
	serverID, name := SplitModelName(toolName)
	if serverID == "" || name == "" {
		return "", fmt.Errorf("malformed tool name %q", toolName)
	}

	status, err := b.registry.Status(serverID)
	switch {
	case err != nil:
		return "", &ToolExecutionError{ServerID: serverID, ToolName: name, Err: err}
	case status != StatusRunning:
		return "", &ToolExecutionError{ServerID: serverID, ToolName: name, Err: ErrServerNotRunning}
	}

	output, err := b.handle.Invoke(ctx, serverID, name, argsJSON)
	if err != nil {
		return "", &ToolExecutionError{ServerID: serverID, ToolName: name, Err: err}
	}
	return output, nil
}

// InvokeAll runs a batch of tool calls concurrently and returns one
// result per request, in request order, each carrying its CallID so
// answers match questions even when completion order differs.
func (b *Bridge) InvokeAll(ctx context.Context, reqs []InvokeRequest) []InvokeResult {
	results := make([]InvokeResult, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req InvokeRequest) {
			defer wg.Done()
			output, err := b.Invoke(ctx, req.ToolName, req.ArgsJSON)
			results[i] = InvokeResult{CallID: req.CallID, Output: output, Err: err}
		}(i, req)
	}
	wg.Wait()

	return results
}

package mcp

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"nore/config"
	"nore/events"
)

// CatalogSaver receives the full server config catalog on every
// committed structural change. Statuses are not persisted; every
// rehydrated server starts out stopped.
type CatalogSaver interface {
	SaveServers(configs []ServerConfig) error
}

type serverEntry struct {
	cfg    ServerConfig
	status ServerStatus

	// gen counts lifecycle intents for this id. An acknowledgment is
	// committed only if no newer intent was issued while it was in
	// flight; late acks are discarded, never applied.
	gen uint64
}

// Registry owns the catalog of configured tool servers and their
// lifecycle status. Start/stop intents go through the ProcessHandle;
// observed acknowledgments are reconciled against the intent ledger.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	servers map[string]*serverEntry
	handle  ProcessHandle
	bus     *events.Bus
	saver   CatalogSaver
	flight  singleflight.Group
}

func NewRegistry(handle ProcessHandle, bus *events.Bus, saver CatalogSaver) *Registry {
	return &Registry{
		order:   []string{},
		servers: make(map[string]*serverEntry),
		handle:  handle,
		bus:     bus,
		saver:   saver,
	}
}

// Rehydrate loads a persisted catalog. All statuses reset to stopped:
// no process survives a restart of this process.
func (r *Registry) Rehydrate(configs []ServerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cfg := range configs {
		if _, exists := r.servers[cfg.ID]; exists {
			continue
		}
		r.servers[cfg.ID] = &serverEntry{cfg: cfg, status: StatusStopped}
		r.order = append(r.order, cfg.ID)
	}
}

// ListServers returns the catalog in stable insertion order.
func (r *Registry) ListServers() []ServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ServerInfo, 0, len(r.order))
	for _, id := range r.order {
		entry := r.servers[id]
		infos = append(infos, ServerInfo{Config: cloneConfig(entry.cfg), Status: entry.status})
	}
	return infos
}

// GetServer returns one server's config and status.
func (r *Registry) GetServer(id string) (ServerInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.servers[id]
	if !exists {
		return ServerInfo{}, fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	return ServerInfo{Config: cloneConfig(entry.cfg), Status: entry.status}, nil
}

// Status returns the current committed status for id, checked fresh.
func (r *Registry) Status(id string) (ServerStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.servers[id]
	if !exists {
		return StatusStopped, fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	return entry.status, nil
}

// RunningIDs returns the ids of all servers currently running, in
// catalog order.
func (r *Registry) RunningIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, id := range r.order {
		if r.servers[id].status == StatusRunning {
			ids = append(ids, id)
		}
	}
	return ids
}

// AddServer appends a new config with status stopped.
func (r *Registry) AddServer(cfg ServerConfig) error {
	r.mu.Lock()
	if _, exists := r.servers[cfg.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("server %s: %w", cfg.ID, ErrDuplicateID)
	}

	r.servers[cfg.ID] = &serverEntry{cfg: cloneConfig(cfg), status: StatusStopped}
	r.order = append(r.order, cfg.ID)
	configs := r.snapshotConfigsLocked()
	r.mu.Unlock()

	r.save(configs)
	return nil
}

// UpdateServer shallow-merges the patch into the stored config. It does
// not restart a running server; the caller restarts explicitly when a
// change requires it.
func (r *Registry) UpdateServer(id string, patch ServerConfigPatch) error {
	r.mu.Lock()
	entry, exists := r.servers[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("server %s: %w", id, ErrNotFound)
	}

	if patch.Name != nil {
		entry.cfg.Name = *patch.Name
	}
	if patch.DisplayName != nil {
		entry.cfg.DisplayName = *patch.DisplayName
	}
	if patch.Description != nil {
		entry.cfg.Description = *patch.Description
	}
	if patch.Icon != nil {
		entry.cfg.Icon = *patch.Icon
	}
	if patch.Command != nil {
		entry.cfg.Command = *patch.Command
	}
	if patch.Args != nil {
		entry.cfg.Args = append([]string(nil), patch.Args...)
	}
	if patch.Env != nil {
		entry.cfg.Env = cloneEnv(patch.Env)
	}
	configs := r.snapshotConfigsLocked()
	r.mu.Unlock()

	r.save(configs)
	return nil
}

// RemoveServer deletes a server from the catalog, stopping it first if
// necessary so a removed server can never leak a live process. Removing
// an absent server is a no-op.
func (r *Registry) RemoveServer(ctx context.Context, id string) error {
	r.mu.RLock()
	entry, exists := r.servers[id]
	needsStop := exists && entry.status != StatusStopped
	r.mu.RUnlock()

	if !exists {
		return nil
	}

	if needsStop {
		if _, err := r.StopServer(ctx, id); err != nil {
			return fmt.Errorf("failed to stop server %s before removal: %w", id, err)
		}
	}

	r.mu.Lock()
	entry, exists = r.servers[id]
	if !exists {
		r.mu.Unlock()
		return nil
	}
	// Invalidate any in-flight acknowledgment for this id.
	entry.gen++
	delete(r.servers, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	configs := r.snapshotConfigsLocked()
	r.mu.Unlock()

	r.save(configs)
	return nil
}

// StartServer starts the server and blocks on the external start
// acknowledgment. Concurrent starts for the same id collapse into one
// underlying launch; every caller observes the same outcome. A start
// that races a remove loses: the process is stopped again and the
// caller gets ErrNotFound.
func (r *Registry) StartServer(ctx context.Context, id string) (bool, error) {
	_, err, _ := r.flight.Do(id, func() (any, error) {
		return nil, r.startOnce(ctx, id)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Registry) startOnce(ctx context.Context, id string) error {
	r.mu.Lock()
	entry, exists := r.servers[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	if entry.status == StatusRunning {
		r.mu.Unlock()
		return nil
	}
	entry.gen++
	myGen := entry.gen
	cfg := cloneConfig(entry.cfg)
	r.mu.Unlock()

	startErr := r.handle.Start(ctx, cfg)

	r.mu.Lock()
	entry, exists = r.servers[id]
	switch {
	case !exists:
		r.mu.Unlock()
		// Removed while starting: remove wins, reap the process.
		if startErr == nil {
			_ = r.handle.Stop(context.Background(), id)
		}
		return fmt.Errorf("server %s removed during start: %w", id, ErrNotFound)
	case entry.gen != myGen:
		r.mu.Unlock()
		switch {
		case config.DebugLog != nil:
			config.DebugLog.Printf("[MCP] Discarding stale start ack for %q", id)
		}
		return startErr
	}

	if startErr != nil {
		// Never land on idle after a failed start.
		entry.status = StatusStopped
		r.mu.Unlock()
		r.publishStatus(id, StatusStopped, startErr)
		return startErr
	}

	entry.status = StatusRunning
	r.mu.Unlock()
	r.publishStatus(id, StatusRunning, nil)
	return nil
}

// StopServer stops the server. Stopping an already-stopped server
// succeeds trivially.
func (r *Registry) StopServer(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	entry, exists := r.servers[id]
	if !exists {
		r.mu.Unlock()
		return true, nil
	}
	if entry.status == StatusStopped {
		r.mu.Unlock()
		return true, nil
	}
	entry.gen++
	myGen := entry.gen
	r.mu.Unlock()

	stopErr := r.handle.Stop(ctx, id)

	r.mu.Lock()
	entry, exists = r.servers[id]
	switch {
	case !exists:
		r.mu.Unlock()
		return true, stopErr
	case entry.gen != myGen:
		r.mu.Unlock()
		switch {
		case config.DebugLog != nil:
			config.DebugLog.Printf("[MCP] Discarding stale stop ack for %q", id)
		}
		return stopErr == nil, stopErr
	}

	if stopErr != nil {
		r.mu.Unlock()
		return false, stopErr
	}

	entry.status = StatusStopped
	r.mu.Unlock()
	r.publishStatus(id, StatusStopped, nil)
	return true, nil
}

func (r *Registry) publishStatus(id string, status ServerStatus, err error) {
	if r.bus != nil {
		r.bus.Publish(events.ServerStatusChanged{ServerID: id, Status: string(status), Err: err})
	}
}

func (r *Registry) snapshotConfigsLocked() []ServerConfig {
	configs := make([]ServerConfig, 0, len(r.order))
	for _, id := range r.order {
		configs = append(configs, cloneConfig(r.servers[id].cfg))
	}
	return configs
}

func (r *Registry) save(configs []ServerConfig) {
	if r.saver == nil {
		return
	}
	if err := r.saver.SaveServers(configs); err != nil {
		switch {
		case config.DebugLog != nil:
			config.DebugLog.Printf("[MCP] Failed to persist server catalog: %v", err)
		}
	}
}

func cloneConfig(cfg ServerConfig) ServerConfig {
	out := cfg
	out.Args = append([]string(nil), cfg.Args...)
	out.Env = cloneEnv(cfg.Env)
	return out
}

func cloneEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

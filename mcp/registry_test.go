package mcp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeHandle implements ProcessHandle for tests. Start and Stop can be
// made to block so lifecycle races are reproducible.
type fakeHandle struct {
	mu         sync.Mutex
	startCalls int
	stopCalls  int
	running    map[string]bool

	startGate chan struct{} // when non-nil, Start waits on it
	stopGate  chan struct{} // when non-nil, the first Stop waits on it
	startErr  error

	tools   map[string][]ToolDescriptor
	listErr map[string]error

	invokeFn func(serverID, toolName, argsJSON string) (string, error)
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		running: make(map[string]bool),
		tools:   make(map[string][]ToolDescriptor),
		listErr: make(map[string]error),
	}
}

func (f *fakeHandle) Start(ctx context.Context, cfg ServerConfig) error {
	f.mu.Lock()
	f.startCalls++
	gate := f.startGate
	err := f.startErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.running[cfg.ID] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeHandle) Stop(ctx context.Context, serverID string) error {
	f.mu.Lock()
	f.stopCalls++
	gate := f.stopGate
	f.stopGate = nil
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	delete(f.running, serverID)
	f.mu.Unlock()
	return nil
}

func (f *fakeHandle) ListTools(ctx context.Context, serverID string) ([]ToolDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[serverID]; err != nil {
		return nil, err
	}
	return f.tools[serverID], nil
}

func (f *fakeHandle) Invoke(ctx context.Context, serverID, toolName, argsJSON string) (string, error) {
	if f.invokeFn != nil {
		return f.invokeFn(serverID, toolName, argsJSON)
	}
	return "ok", nil
}

func (f *fakeHandle) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.stopCalls
}

func testConfig(id string) ServerConfig {
	return ServerConfig{ID: id, Name: id, Command: "echo"}
}

func TestRegistryAddDuplicate(t *testing.T) {
	r := NewRegistry(newFakeHandle(), nil, nil)

	if err := r.AddServer(testConfig("fs")); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	err := r.AddServer(testConfig("fs"))
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
}

func TestRegistryListOrder(t *testing.T) {
	r := NewRegistry(newFakeHandle(), nil, nil)

	for _, id := range []string{"c", "a", "b"} {
		if err := r.AddServer(testConfig(id)); err != nil {
			t.Fatalf("add %s failed: %v", id, err)
		}
	}

	infos := r.ListServers()
	if len(infos) != 3 {
		t.Fatalf("expected 3 servers, got %d", len(infos))
	}
	for i, want := range []string{"c", "a", "b"} {
		if infos[i].Config.ID != want {
			t.Errorf("position %d: expected %q, got %q", i, want, infos[i].Config.ID)
		}
	}
}

func TestRegistryStartStop(t *testing.T) {
	handle := newFakeHandle()
	r := NewRegistry(handle, nil, nil)
	ctx := context.Background()

	if err := r.AddServer(testConfig("fs")); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if _, err := r.StartServer(ctx, "fs"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if status, _ := r.Status("fs"); status != StatusRunning {
		t.Errorf("expected running, got %s", status)
	}

	// Starting a running server is a no-op.
	if _, err := r.StartServer(ctx, "fs"); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if starts, _ := handle.counts(); starts != 1 {
		t.Errorf("expected 1 underlying start, got %d", starts)
	}

	if _, err := r.StopServer(ctx, "fs"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if status, _ := r.Status("fs"); status != StatusStopped {
		t.Errorf("expected stopped, got %s", status)
	}

	// Stopping again succeeds trivially.
	ok, err := r.StopServer(ctx, "fs")
	if err != nil || !ok {
		t.Errorf("idempotent stop failed: ok=%v err=%v", ok, err)
	}
}

func TestRegistryStartUnknown(t *testing.T) {
	r := NewRegistry(newFakeHandle(), nil, nil)

	_, err := r.StartServer(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistryFailedStartLandsStopped(t *testing.T) {
	handle := newFakeHandle()
	handle.startErr = errors.New("spawn failed")
	r := NewRegistry(handle, nil, nil)

	if err := r.AddServer(testConfig("fs")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := r.StartServer(context.Background(), "fs"); err == nil {
		t.Fatal("expected start error")
	}
	if status, _ := r.Status("fs"); status != StatusStopped {
		t.Errorf("failed start must land on stopped, got %s", status)
	}
}

func TestRegistryConcurrentStartsCollapse(t *testing.T) {
	handle := newFakeHandle()
	handle.startGate = make(chan struct{})
	r := NewRegistry(handle, nil, nil)
	ctx := context.Background()

	if err := r.AddServer(testConfig("fs")); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.StartServer(ctx, "fs")
		}(i)
	}

	// Let every caller pile onto the same in-flight start.
	time.Sleep(50 * time.Millisecond)
	close(handle.startGate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: unexpected error %v", i, err)
		}
	}
	if starts, _ := handle.counts(); starts != 1 {
		t.Errorf("expected 1 underlying start, got %d", starts)
	}
	if status, _ := r.Status("fs"); status != StatusRunning {
		t.Errorf("expected running, got %s", status)
	}
}

func TestRegistryRemoveDuringStartWins(t *testing.T) {
	handle := newFakeHandle()
	handle.startGate = make(chan struct{})
	r := NewRegistry(handle, nil, nil)
	ctx := context.Background()

	if err := r.AddServer(testConfig("fs")); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	startErr := make(chan error, 1)
	go func() {
		_, err := r.StartServer(ctx, "fs")
		startErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	if err := r.RemoveServer(ctx, "fs"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	close(handle.startGate)

	if err := <-startErr; !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound from start, got %v", err)
	}
	// The orphaned process must have been reaped.
	deadline := time.After(time.Second)
	for {
		if _, stops := handle.counts(); stops > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected the started process to be stopped after removal")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if len(r.ListServers()) != 0 {
		t.Error("removed server still listed")
	}
}

func TestRegistryStaleStopAckDiscarded(t *testing.T) {
	handle := newFakeHandle()
	r := NewRegistry(handle, nil, nil)
	ctx := context.Background()

	if err := r.AddServer(testConfig("fs")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := r.StartServer(ctx, "fs"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// First stop hangs in flight.
	gate := make(chan struct{})
	handle.mu.Lock()
	handle.stopGate = gate
	handle.mu.Unlock()

	stopDone := make(chan struct{})
	go func() {
		r.StopServer(ctx, "fs")
		close(stopDone)
	}()
	time.Sleep(50 * time.Millisecond)

	// While the stop is in flight the user removes, re-adds, and
	// restarts the server.
	if err := r.RemoveServer(ctx, "fs"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := r.AddServer(testConfig("fs")); err != nil {
		t.Fatalf("re-add failed: %v", err)
	}
	if _, err := r.StartServer(ctx, "fs"); err != nil {
		t.Fatalf("restart failed: %v", err)
	}

	// The late stop acknowledgment must not flip the restarted server
	// back to stopped.
	close(gate)
	<-stopDone

	if status, _ := r.Status("fs"); status != StatusRunning {
		t.Errorf("stale stop ack was applied: expected running, got %s", status)
	}
}

func TestRegistryRemoveAbsentIsNoop(t *testing.T) {
	r := NewRegistry(newFakeHandle(), nil, nil)
	if err := r.RemoveServer(context.Background(), "ghost"); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
}

func TestRegistryUpdateMergesPatch(t *testing.T) {
	r := NewRegistry(newFakeHandle(), nil, nil)

	cfg := testConfig("fs")
	cfg.Args = []string{"-a"}
	if err := r.AddServer(cfg); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	newCmd := "npx"
	if err := r.UpdateServer("fs", ServerConfigPatch{Command: &newCmd}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	info, err := r.GetServer("fs")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if info.Config.Command != "npx" {
		t.Errorf("expected command npx, got %q", info.Config.Command)
	}
	if len(info.Config.Args) != 1 || info.Config.Args[0] != "-a" {
		t.Errorf("untouched field changed: %v", info.Config.Args)
	}

	err = r.UpdateServer("ghost", ServerConfigPatch{Command: &newCmd})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistryRehydrateResetsStatus(t *testing.T) {
	r := NewRegistry(newFakeHandle(), nil, nil)
	r.Rehydrate([]ServerConfig{testConfig("a"), testConfig("b")})

	for _, info := range r.ListServers() {
		if info.Status != StatusStopped {
			t.Errorf("server %s: expected stopped after rehydrate, got %s", info.Config.ID, info.Status)
		}
	}
}

// Package supervisor owns the lazily-spawned per-target worker child
// processes: one slot per target, spawned on first use, respawned on
// crash, and torn down on shutdown. It is the piece that turns the
// gateway's request/target pair into a call against a running worker
// process speaking workerproto on stdio.
package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/relaygate/relaygate/internal/errs"
	"github.com/relaygate/relaygate/internal/logger"
	"github.com/relaygate/relaygate/internal/workerproto"
)

// ShutdownGrace is how long Supervisor.Shutdown waits for a worker to
// exit on its own (by closing stdin) before it is force-killed.
const ShutdownGrace = 2 * time.Second

// RequestTimeout bounds how long a single Call waits for a worker to
// answer before the slot is marked Faulted and ErrWorkerTimeout is
// returned.
const RequestTimeout = 30 * time.Second

// CommandFactory builds the *exec.Cmd to spawn for target, given the
// per-tenant data path it should use. Production code points this at
// the configured worker binary; tests substitute the Go
// test-helper-process pattern, re-executing the test binary as a fake
// worker.
type CommandFactory func(target, dbPath string) *exec.Cmd

// SpawnRecorder observes successful worker spawns, backing the
// relaygate_worker_spawns_total metric. A nil recorder disables this.
type SpawnRecorder interface {
	ObserveSpawn(target string)
}

// Supervisor owns one Slot per target and the map guarding them.
type Supervisor struct {
	// mapMu covers only lookup/insert/delete on slots — never held
	// while a request is in flight against a slot.
	mapMu sync.Mutex
	slots map[string]*Slot

	dataDir    string
	newCommand CommandFactory
	recorder   SpawnRecorder
}

// Option configures optional Supervisor behavior.
type Option func(*Supervisor)

// WithSpawnRecorder enables spawn-count metrics.
func WithSpawnRecorder(r SpawnRecorder) Option {
	return func(s *Supervisor) { s.recorder = r }
}

// New creates a Supervisor that spawns workerBin once per distinct
// target, passing it a per-tenant data file under dataDir.
func New(workerBin, dataDir string, opts ...Option) *Supervisor {
	return NewWithCommandFactory(dataDir, func(target, dbPath string) *exec.Cmd {
		cmd := exec.Command(workerBin)
		cmd.Env = append(cmd.Environ(), "DB_PATH="+dbPath, "WORKER_TARGET="+target)
		return cmd
	}, opts...)
}

// NewWithCommandFactory creates a Supervisor using a caller-supplied
// CommandFactory, letting tests swap in a fake worker process.
func NewWithCommandFactory(dataDir string, factory CommandFactory, opts ...Option) *Supervisor {
	s := &Supervisor{
		slots:      make(map[string]*Slot),
		dataDir:    dataDir,
		newCommand: factory,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) slotFor(target string) *Slot {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	slot, ok := s.slots[target]
	if !ok {
		slot = newSlot(target)
		s.slots[target] = slot
	}
	return slot
}

// Call serializes one request against the target's worker, spawning
// or respawning the process if needed. method/params follow
// workerproto; the returned value is the worker's decoded result.
func (s *Supervisor) Call(ctx context.Context, target, method string, params map[string]interface{}) (interface{}, error) {
	slot := s.slotFor(target)

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.state == Faulted || slot.state == Spawning {
		if err := s.spawnLocked(slot); err != nil {
			return nil, err
		}
	}

	slot.state = InUse
	slot.nextID++
	id := slot.nextID

	if err := workerproto.WriteRequest(slot.stdin, id, method, params); err != nil {
		slot.state = Faulted
		slot.closePipes()
		return nil, fmt.Errorf("%w: write to worker: %v", errs.ErrProtocol, err)
	}

	type readResult struct {
		resp workerproto.Response
		err  error
	}
	done := make(chan readResult, 1)
	go func() {
		resp, err := workerproto.ReadResponse(slot.scanner)
		done <- readResult{resp, err}
	}()

	deadline := time.After(RequestTimeout)
	select {
	case <-ctx.Done():
		slot.state = Faulted
		slot.closePipes()
		return nil, ctx.Err()
	case <-deadline:
		slot.state = Faulted
		slot.closePipes()
		return nil, errs.ErrWorkerTimeout
	case r := <-done:
		if r.err != nil {
			slot.state = Faulted
			slot.closePipes()
			return nil, fmt.Errorf("%w: %v", errs.ErrProtocol, r.err)
		}
		if r.resp.ID != id {
			slot.state = Faulted
			slot.closePipes()
			return nil, fmt.Errorf("%w: response id %d does not match request id %d", errs.ErrProtocol, r.resp.ID, id)
		}
		if r.resp.IsError() {
			slot.state = Ready
			slot.lastActivity = time.Now()
			return nil, fmt.Errorf("%w: %s", errs.ErrWorkerFault, r.resp.Error)
		}
		slot.state = Ready
		slot.lastActivity = time.Now()
		return r.resp.Result, nil
	}
}

// spawnLocked starts the worker process for slot.target. Callers must
// hold slot.mu.
func (s *Supervisor) spawnLocked(slot *Slot) error {
	slot.state = Spawning
	dbPath := filepath.Join(s.dataDir, fmt.Sprintf("tenant_%s.db", slot.target))

	cmd := s.newCommand(slot.target, dbPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", errs.ErrProtocol, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", errs.ErrProtocol, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: spawn worker for %s: %v", errs.ErrProtocol, slot.target, err)
	}

	logger.Component("supervisor").Info().Str("target", slot.target).Str("db_path", dbPath).Msg("spawned worker")
	slot.attach(cmd, stdin, stdout)
	if s.recorder != nil {
		s.recorder.ObserveSpawn(slot.target)
	}
	return nil
}

// Shutdown closes every live slot's stdin (letting workers exit
// cleanly), waits up to ShutdownGrace, then force-kills whatever is
// still alive.
func (s *Supervisor) Shutdown() {
	s.mapMu.Lock()
	slots := make([]*Slot, 0, len(s.slots))
	for _, slot := range s.slots {
		slots = append(slots, slot)
	}
	s.mapMu.Unlock()

	var wg sync.WaitGroup
	for _, slot := range slots {
		wg.Add(1)
		go func(slot *Slot) {
			defer wg.Done()
			s.shutdownSlot(slot)
		}(slot)
	}
	wg.Wait()
}

func (s *Supervisor) shutdownSlot(slot *Slot) {
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.state == Closed || slot.cmd == nil {
		slot.state = Closed
		return
	}

	if slot.stdin != nil {
		slot.stdin.Close()
	}

	exited := make(chan struct{})
	go func() {
		slot.cmd.Wait()
		close(exited)
	}()

	select {
	case <-exited:
	case <-time.After(ShutdownGrace):
		if slot.cmd.Process != nil {
			_ = slot.cmd.Process.Kill()
		}
		<-exited
	}

	if slot.stdout != nil {
		slot.stdout.Close()
	}
	slot.state = Closed
}

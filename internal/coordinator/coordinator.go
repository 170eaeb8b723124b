// Package coordinator supervises batch worker processes: admission control,
// spawn/monitor/retry, relaying of control frames to observers, and
// graceful-then-forceful shutdown. Its registry is in-memory only; durability
// lives in the job store's status column, which is why a coordinator restart
// needs no bookkeeping beyond the workers' own stuck-job recovery.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"ingest-pipeline/internal/notify"
)

var (
	ErrAlreadyRunning   = errors.New("batch already running")
	ErrCapacityExceeded = errors.New("batch capacity exceeded")
	ErrShuttingDown     = errors.New("coordinator is shutting down")
)

type Config struct {
	// MaxConcurrent caps tracked batches system-wide; the only place work is
	// rejected outright rather than paced.
	MaxConcurrent int
	// RetryBudget is how many times a crashed worker is respawned for the
	// same batch.
	RetryBudget      int
	RetryDelay       time.Duration
	WaitTimeout      time.Duration
	TermGrace        time.Duration
	CoalesceInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.RetryBudget < 0 {
		c.RetryBudget = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 10 * time.Second
	}
	if c.TermGrace <= 0 {
		c.TermGrace = 2 * time.Second
	}
}

type batchState struct {
	proc      workerProcess
	startedAt time.Time
	retries   int
}

type Coordinator struct {
	cfg    Config
	launch launcher
	relay  *Relay

	mu       sync.Mutex
	batches  map[uuid.UUID]*batchState
	shutting bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a coordinator that spawns workerBin for each admitted batch and
// relays worker events to notifier.
func New(cfg Config, workerBin string, notifier notify.Notifier) *Coordinator {
	return newWithLauncher(cfg, &execLauncher{bin: workerBin}, notifier)
}

func newWithLauncher(cfg Config, launch launcher, notifier notify.Notifier) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		cfg:     cfg,
		launch:  launch,
		relay:   NewRelay(notifier, cfg.CoalesceInterval),
		batches: map[uuid.UUID]*batchState{},
		stopCh:  make(chan struct{}),
	}
}

// CanStart reports whether a new worker for batchID would be admitted.
func (c *Coordinator) CanStart(batchID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canStartLocked(batchID)
}

func (c *Coordinator) canStartLocked(batchID uuid.UUID) error {
	if c.shutting {
		return ErrShuttingDown
	}
	if _, ok := c.batches[batchID]; ok {
		return ErrAlreadyRunning
	}
	if len(c.batches) >= c.cfg.MaxConcurrent {
		return ErrCapacityExceeded
	}
	return nil
}

// StartBatch admits the batch and spawns its worker process. Admission errors
// surface synchronously and are never retried here.
func (c *Coordinator) StartBatch(ctx context.Context, batchID uuid.UUID) error {
	c.mu.Lock()
	if err := c.canStartLocked(batchID); err != nil {
		c.mu.Unlock()
		return err
	}
	st := &batchState{startedAt: time.Now()}
	c.batches[batchID] = st
	c.mu.Unlock()

	if err := c.spawn(ctx, batchID, st); err != nil {
		c.deregister(batchID)
		return fmt.Errorf("spawn worker: %w", err)
	}
	log.Printf("[coordinator] batch=%s worker started", batchID)
	return nil
}

func (c *Coordinator) IsRunning(batchID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.batches[batchID]
	return ok
}

func (c *Coordinator) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

// spawn launches under the registry lock so Shutdown's snapshot can never
// miss a process that is mid-launch.
func (c *Coordinator) spawn(ctx context.Context, batchID uuid.UUID, st *batchState) error {
	c.mu.Lock()
	if c.shutting {
		c.mu.Unlock()
		return ErrShuttingDown
	}
	proc, err := c.launch.Launch(ctx, batchID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	st.proc = proc
	// Still under the lock: Shutdown's wg.Wait must never observe a zero
	// counter while a monitor for a tracked process is yet to start.
	c.wg.Add(1)
	c.mu.Unlock()

	go c.monitor(ctx, batchID, st, proc)
	return nil
}

func (c *Coordinator) monitor(ctx context.Context, batchID uuid.UUID, st *batchState, proc workerProcess) {
	defer c.wg.Done()

	for m := range proc.Messages() {
		c.relay.Handle(m)
	}
	<-proc.Done()
	code := proc.ExitCode()

	if code == 0 {
		c.deregister(batchID)
		log.Printf("[coordinator] batch=%s worker exited cleanly", batchID)
		return
	}

	c.mu.Lock()
	shutting := c.shutting
	retries := st.retries
	c.mu.Unlock()

	if shutting || retries >= c.cfg.RetryBudget {
		c.deregister(batchID)
		if !shutting {
			c.relay.Terminal(batchID,
				fmt.Sprintf("worker exited with code %d after %d attempt(s)", code, retries+1))
		}
		return
	}

	log.Printf("[coordinator] batch=%s exit_code=%d retry=%d/%d in %s",
		batchID, code, retries+1, c.cfg.RetryBudget, c.cfg.RetryDelay)
	select {
	case <-time.After(c.cfg.RetryDelay):
	case <-c.stopCh:
		c.deregister(batchID)
		return
	case <-ctx.Done():
		c.deregister(batchID)
		return
	}

	c.mu.Lock()
	st.retries++
	c.mu.Unlock()
	if err := c.spawn(ctx, batchID, st); err != nil {
		c.deregister(batchID)
		if !errors.Is(err, ErrShuttingDown) {
			c.relay.Terminal(batchID, "respawn failed: "+err.Error())
		}
	}
}

func (c *Coordinator) deregister(batchID uuid.UUID) {
	c.mu.Lock()
	delete(c.batches, batchID)
	c.mu.Unlock()
}

// Shutdown asks every tracked worker to drain, escalating to SIGTERM and then
// SIGKILL for workers that do not exit in time. It returns once every tracked
// worker is accounted for; a force-kill is reported as an error rather than
// swallowed. Idempotent.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutting {
		c.mu.Unlock()
		c.wg.Wait()
		return nil
	}
	c.shutting = true
	close(c.stopCh)
	procs := make(map[uuid.UUID]workerProcess, len(c.batches))
	for id, st := range c.batches {
		if st.proc != nil {
			procs[id] = st.proc
		}
	}
	c.mu.Unlock()

	log.Printf("[coordinator] shutting down, %d worker(s) tracked", len(procs))

	var result *multierror.Error
	var resMu sync.Mutex
	var wg sync.WaitGroup
	for id, proc := range procs {
		wg.Add(1)
		go func(id uuid.UUID, proc workerProcess) {
			defer wg.Done()
			if err := c.stopWorker(ctx, id, proc); err != nil {
				resMu.Lock()
				result = multierror.Append(result, fmt.Errorf("batch %s: %w", id, err))
				resMu.Unlock()
			}
		}(id, proc)
	}
	wg.Wait()
	c.wg.Wait()
	c.relay.Stop()
	return result.ErrorOrNil()
}

func (c *Coordinator) stopWorker(ctx context.Context, batchID uuid.UUID, proc workerProcess) error {
	if err := proc.Shutdown(); err != nil {
		log.Printf("[coordinator] batch=%s drain request failed: %v", batchID, err)
	}

	select {
	case <-proc.Done():
		return nil
	case <-time.After(c.cfg.WaitTimeout):
	case <-ctx.Done():
	}

	log.Printf("[coordinator] batch=%s did not drain in time, sending SIGTERM", batchID)
	_ = proc.Signal(syscall.SIGTERM)
	select {
	case <-proc.Done():
		return nil
	case <-time.After(c.cfg.TermGrace):
	}

	log.Printf("[coordinator] batch=%s still alive, sending SIGKILL", batchID)
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill: %w", err)
	}
	<-proc.Done()
	return errors.New("worker force-killed")
}

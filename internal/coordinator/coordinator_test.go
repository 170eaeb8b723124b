package coordinator

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"

	"ingest-pipeline/internal/notify"
	"ingest-pipeline/internal/protocol"
)

// fakeProcess scripts one worker process lifecycle.
type fakeProcess struct {
	msgs     chan protocol.Message
	done     chan struct{}
	exitOnce sync.Once
	code     int

	mu             sync.Mutex
	shutdowns      int
	signals        []os.Signal
	killed         bool
	exitOnShutdown bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		msgs: make(chan protocol.Message, 16),
		done: make(chan struct{}),
	}
}

func (p *fakeProcess) exit(code int) {
	p.exitOnce.Do(func() {
		p.code = code
		close(p.msgs)
		close(p.done)
	})
}

func (p *fakeProcess) Messages() <-chan protocol.Message { return p.msgs }

func (p *fakeProcess) Shutdown() error {
	p.mu.Lock()
	p.shutdowns++
	exitNow := p.exitOnShutdown
	p.mu.Unlock()
	if exitNow {
		p.msgs <- protocol.Done(uuid.Nil, "drained")
		p.exit(0)
	}
	return nil
}

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(137)
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitCode() int { return p.code }

func (p *fakeProcess) shutdownCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdowns
}

func (p *fakeProcess) gotSignal(want os.Signal) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.signals {
		if s == want {
			return true
		}
	}
	return false
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

type fakeLauncher struct {
	mu             sync.Mutex
	procs          []*fakeProcess
	exitOnShutdown bool
}

func (l *fakeLauncher) Launch(_ context.Context, _ uuid.UUID) (workerProcess, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := newFakeProcess()
	p.exitOnShutdown = l.exitOnShutdown
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

func (l *fakeLauncher) proc(i int) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i >= len(l.procs) {
		return nil
	}
	return l.procs[i]
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *captureNotifier) Notify(_ context.Context, ev notify.Event) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func (n *captureNotifier) byType(typ protocol.Type) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, ev := range n.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCoordinator_AdmissionExclusivity(t *testing.T) {
	launch := &fakeLauncher{}
	c := newWithLauncher(Config{MaxConcurrent: 2}, launch, &captureNotifier{})

	batchID := uuid.New()
	if err := c.StartBatch(context.Background(), batchID); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}

	if err := c.CanStart(batchID); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning while tracked, got %v", err)
	}
	if err := c.StartBatch(context.Background(), batchID); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected StartBatch to reject a tracked batch, got %v", err)
	}

	launch.proc(0).exit(0)
	waitFor(t, func() bool { return !c.IsRunning(batchID) }, "batch never deregistered after clean exit")

	if err := c.CanStart(batchID); err != nil {
		t.Fatalf("expected admission after deregistration, got %v", err)
	}
}

func TestCoordinator_CapacityExceeded(t *testing.T) {
	launch := &fakeLauncher{}
	c := newWithLauncher(Config{MaxConcurrent: 1}, launch, &captureNotifier{})

	if err := c.StartBatch(context.Background(), uuid.New()); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}

	other := uuid.New()
	if err := c.CanStart(other); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if err := c.StartBatch(context.Background(), other); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected StartBatch to reject at capacity, got %v", err)
	}
	if launch.launched() != 1 {
		t.Fatalf("expected a single spawned worker, got %d", launch.launched())
	}
}

func TestCoordinator_RetriesThenReportsTerminalFailure(t *testing.T) {
	launch := &fakeLauncher{}
	sink := &captureNotifier{}
	c := newWithLauncher(Config{
		MaxConcurrent: 2,
		RetryBudget:   1,
		RetryDelay:    10 * time.Millisecond,
	}, launch, sink)

	batchID := uuid.New()
	if err := c.StartBatch(context.Background(), batchID); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}

	launch.proc(0).exit(1)
	waitFor(t, func() bool { return launch.launched() == 2 }, "crashed worker was not respawned")

	launch.proc(1).exit(1)
	waitFor(t, func() bool { return !c.IsRunning(batchID) }, "batch never deregistered after exhausted retries")

	waitFor(t, func() bool { return len(sink.byType(protocol.TypeError)) == 1 },
		"expected one terminal error event")
	ev := sink.byType(protocol.TypeError)[0]
	if ev.BatchID != batchID || !strings.Contains(ev.Message, "exited with code 1") {
		t.Fatalf("unexpected terminal event: %+v", ev)
	}
	if launch.launched() != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", launch.launched())
	}
}

func TestCoordinator_RelaysWorkerFrames(t *testing.T) {
	launch := &fakeLauncher{}
	sink := &captureNotifier{}
	c := newWithLauncher(Config{MaxConcurrent: 2}, launch, sink)

	batchID := uuid.New()
	if err := c.StartBatch(context.Background(), batchID); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}

	proc := launch.proc(0)
	proc.msgs <- protocol.Started(batchID)
	proc.msgs <- protocol.JobResult(batchID, 1, "completed", "https://docs.example/1", "")
	proc.msgs <- protocol.Done(batchID, "batch drained")
	proc.exit(0)

	waitFor(t, func() bool { return !c.IsRunning(batchID) }, "batch never deregistered")
	waitFor(t, func() bool {
		return len(sink.byType(protocol.TypeStarted)) == 1 &&
			len(sink.byType(protocol.TypeJobProgress)) == 1 &&
			len(sink.byType(protocol.TypeDone)) == 1
	}, "lifecycle frames were not relayed")
}

func TestCoordinator_GracefulShutdownDrainsWorkers(t *testing.T) {
	launch := &fakeLauncher{exitOnShutdown: true}
	c := newWithLauncher(Config{MaxConcurrent: 2}, launch, &captureNotifier{})

	a, b := uuid.New(), uuid.New()
	if err := c.StartBatch(context.Background(), a); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	if err := c.StartBatch(context.Background(), b); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if launch.proc(0).shutdownCount() != 1 || launch.proc(1).shutdownCount() != 1 {
		t.Fatal("expected every worker to receive exactly one drain request")
	}
	if c.Running() != 0 {
		t.Fatalf("expected empty registry after shutdown, got %d", c.Running())
	}

	if err := c.StartBatch(context.Background(), uuid.New()); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown after shutdown, got %v", err)
	}
}

func TestCoordinator_ShutdownEscalatesToKill(t *testing.T) {
	launch := &fakeLauncher{} // workers ignore drain requests and signals
	c := newWithLauncher(Config{
		MaxConcurrent: 1,
		WaitTimeout:   20 * time.Millisecond,
		TermGrace:     20 * time.Millisecond,
	}, launch, &captureNotifier{})

	batchID := uuid.New()
	if err := c.StartBatch(context.Background(), batchID); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}

	err := c.Shutdown(context.Background())
	if err == nil || !strings.Contains(err.Error(), "force-killed") {
		t.Fatalf("expected a force-kill to be reported, got %v", err)
	}

	proc := launch.proc(0)
	if !proc.gotSignal(syscall.SIGTERM) {
		t.Fatal("expected SIGTERM before SIGKILL")
	}
	if !proc.wasKilled() {
		t.Fatal("expected the stuck worker to be killed")
	}
	if c.Running() != 0 {
		t.Fatalf("expected every worker accounted for, got %d tracked", c.Running())
	}
}

func TestCoordinator_ShutdownWaitsForFreshMonitors(t *testing.T) {
	// StartBatch racing Shutdown: once Shutdown returns, the monitor of any
	// batch that was admitted must have fully finished, so no event may arrive
	// afterwards and its terminal frame must already be in the sink.
	for i := 0; i < 25; i++ {
		launch := &fakeLauncher{exitOnShutdown: true}
		sink := &captureNotifier{}
		c := newWithLauncher(Config{MaxConcurrent: 4}, launch, sink)

		started := make(chan error, 1)
		go func() { started <- c.StartBatch(context.Background(), uuid.New()) }()

		if err := c.Shutdown(context.Background()); err != nil {
			t.Fatalf("iter %d Shutdown: %v", i, err)
		}

		err := <-started
		if err != nil && !errors.Is(err, ErrShuttingDown) {
			t.Fatalf("iter %d StartBatch: %v", i, err)
		}
		if err == nil && len(sink.byType(protocol.TypeDone)) != 1 {
			t.Fatalf("iter %d: admitted batch's done event missing after Shutdown returned", i)
		}

		settled := sink.count()
		time.Sleep(2 * time.Millisecond)
		if got := sink.count(); got != settled {
			t.Fatalf("iter %d: events kept arriving after Shutdown returned (%d -> %d)", i, settled, got)
		}
	}
}

func TestCoordinator_NoRespawnDuringShutdown(t *testing.T) {
	launch := &fakeLauncher{}
	c := newWithLauncher(Config{
		MaxConcurrent: 1,
		RetryBudget:   5,
		RetryDelay:    time.Millisecond,
		WaitTimeout:   time.Second,
	}, launch, &captureNotifier{})

	batchID := uuid.New()
	if err := c.StartBatch(context.Background(), batchID); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Shutdown(context.Background()) }()

	waitFor(t, func() bool { return launch.proc(0).shutdownCount() == 1 }, "drain request never sent")

	// Crash during shutdown: the retry budget must not apply.
	launch.proc(0).exit(1)
	if err := <-done; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if launch.launched() != 1 {
		t.Fatalf("expected no respawn during shutdown, got %d launches", launch.launched())
	}
}

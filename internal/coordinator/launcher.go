package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/google/uuid"

	"ingest-pipeline/internal/protocol"
)

// workerProcess is the coordinator's view of one spawned batch worker.
type workerProcess interface {
	// Messages streams control frames off the worker's stdout; closed on EOF.
	Messages() <-chan protocol.Message
	// Shutdown writes the graceful-drain frame to the worker's stdin.
	Shutdown() error
	Signal(sig os.Signal) error
	Kill() error
	// Done is closed once the process has exited; ExitCode is valid after.
	Done() <-chan struct{}
	ExitCode() int
}

type launcher interface {
	Launch(ctx context.Context, batchID uuid.UUID) (workerProcess, error)
}

// execLauncher spawns the batch worker binary with stdout as the control
// channel and stderr passed through for logs.
type execLauncher struct {
	bin string
}

func (l *execLauncher) Launch(ctx context.Context, batchID uuid.UUID) (workerProcess, error) {
	cmd := exec.Command(l.bin, "-batch", batchID.String())
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &execProcess{
		batchID:  batchID,
		cmd:      cmd,
		stdin:    stdin,
		enc:      json.NewEncoder(stdin),
		msgs:     make(chan protocol.Message, 64),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.readLoop(stdout)
	go p.waitLoop()
	return p, nil
}

type execProcess struct {
	batchID uuid.UUID
	cmd     *exec.Cmd
	stdin   io.WriteCloser

	encMu sync.Mutex
	enc   *json.Encoder

	msgs     chan protocol.Message
	readDone chan struct{}
	done     chan struct{}
	exitCode int
}

func (p *execProcess) readLoop(stdout io.Reader) {
	r := protocol.NewReader(stdout)
	for {
		m, err := r.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[coordinator] batch=%s control channel error=%v", p.batchID, err)
			}
			if n := r.Skipped(); n > 0 {
				log.Printf("[coordinator] batch=%s skipped %d non-frame lines", p.batchID, n)
			}
			close(p.msgs)
			close(p.readDone)
			return
		}
		p.msgs <- m
	}
}

func (p *execProcess) waitLoop() {
	// Wait closes the stdout pipe and would discard frames still buffered in
	// it, the terminal frame included. Reading must finish first.
	<-p.readDone
	err := p.cmd.Wait()
	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}
	p.exitCode = code
	close(p.done)
}

func (p *execProcess) Messages() <-chan protocol.Message { return p.msgs }

func (p *execProcess) Shutdown() error {
	p.encMu.Lock()
	defer p.encMu.Unlock()
	return p.enc.Encode(protocol.Shutdown(p.batchID))
}

func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }

func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitCode() int { return p.exitCode }

package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ingest-pipeline/internal/notify"
	"ingest-pipeline/internal/protocol"
)

// Relay forwards worker control frames to the observer sink. Bursty progress
// frames are coalesced: only the latest per batch survives a flush interval.
// Discrete lifecycle frames (started, job-progress, done, error) pass through
// immediately.
type Relay struct {
	notifier notify.Notifier
	interval time.Duration

	mu      sync.Mutex
	pending map[uuid.UUID]protocol.Message
	stopped bool

	stop chan struct{}
	done chan struct{}
}

func NewRelay(notifier notify.Notifier, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	r := &Relay{
		notifier: notifier,
		interval: interval,
		pending:  map[uuid.UUID]protocol.Message{},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.flushLoop()
	return r
}

func (r *Relay) Handle(m protocol.Message) {
	if m.Type == protocol.TypeProgress {
		r.mu.Lock()
		if !r.stopped {
			r.pending[m.BatchID] = m
		}
		r.mu.Unlock()
		return
	}
	r.emit(m)
}

// Terminal reports a batch-level failure originating in the coordinator
// itself (exhausted retry budget, failed respawn).
func (r *Relay) Terminal(batchID uuid.UUID, msg string) {
	r.emit(protocol.Error(batchID, msg))
}

// Stop flushes whatever is buffered and halts the flush loop. Idempotent.
func (r *Relay) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.stopped = true
	r.mu.Unlock()
	close(r.stop)
	<-r.done
}

func (r *Relay) flushLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-r.stop:
			r.flush()
			return
		}
	}
}

func (r *Relay) flush() {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.pending
	r.pending = map[uuid.UUID]protocol.Message{}
	r.mu.Unlock()

	for _, m := range batch {
		r.emit(m)
	}
}

func (r *Relay) emit(m protocol.Message) {
	r.notifier.Notify(context.Background(), notify.Event{
		Type:    m.Type,
		BatchID: m.BatchID,
		Message: m.Message,
		Job:     m.Job,
		Time:    time.Now().UTC(),
	})
}

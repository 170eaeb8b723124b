package worker

import (
	"context"
	"log"
	"sync"
	"time"
)

// Task is one unit of work submitted to the pool. A task reports its outcome
// only through its own closure; its failure is invisible to siblings and to
// the pool.
type Task func(ctx context.Context)

// Pool runs at most `concurrency` tasks at once and starts no more than
// `ratePerMinute` tasks within any rolling 60-second window. Add never blocks
// the caller; OnIdle is the drain barrier the batch runner paces itself with.
type Pool struct {
	concurrency int
	ratePerMin  int
	window      time.Duration
	ctx         context.Context

	mu      sync.Mutex
	idle    *sync.Cond
	queue   []Task
	starts  []time.Time
	timer   *time.Timer
	running int
}

func NewPool(ctx context.Context, concurrency, ratePerMinute int) *Pool {
	if concurrency <= 0 {
		concurrency = 4
	}
	p := &Pool{
		concurrency: concurrency,
		ratePerMin:  ratePerMinute,
		window:      time.Minute,
		ctx:         ctx,
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Add enqueues a task and returns immediately.
func (p *Pool) Add(task Task) {
	p.mu.Lock()
	p.queue = append(p.queue, task)
	p.dispatchLocked()
	p.mu.Unlock()
}

// OnIdle blocks until every submitted task has finished and the queue is
// empty, or until ctx is cancelled.
func (p *Pool) OnIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.idle.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.running > 0 || len(p.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.idle.Wait()
	}
	return nil
}

func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// dispatchLocked starts queued tasks while both caps allow. When the rate cap
// is the blocker it arms a timer for the moment the oldest start leaves the
// window.
func (p *Pool) dispatchLocked() {
	now := time.Now()
	for len(p.queue) > 0 && p.running < p.concurrency {
		if p.ratePerMin > 0 {
			p.pruneStartsLocked(now)
			if len(p.starts) >= p.ratePerMin {
				p.armTimerLocked(p.starts[0].Add(p.window).Sub(now))
				return
			}
			p.starts = append(p.starts, now)
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.running++
		go p.run(task)
	}
}

func (p *Pool) pruneStartsLocked(now time.Time) {
	cut := now.Add(-p.window)
	i := 0
	for i < len(p.starts) && !p.starts[i].After(cut) {
		i++
	}
	p.starts = p.starts[i:]
}

func (p *Pool) armTimerLocked(d time.Duration) {
	if d < time.Millisecond {
		d = time.Millisecond
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(d, func() {
		p.mu.Lock()
		p.dispatchLocked()
		p.mu.Unlock()
	})
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[pool] recovered task panic: %v", r)
		}
		p.mu.Lock()
		p.running--
		p.dispatchLocked()
		if p.running == 0 && len(p.queue) == 0 {
			p.idle.Broadcast()
		}
		p.mu.Unlock()
	}()
	task(p.ctx)
}

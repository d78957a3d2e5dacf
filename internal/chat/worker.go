package chat

import (
	"context"
	"time"
)

type result struct {
	reply *Reply
	err   error
}

type job struct {
	ctx  context.Context
	run  func(context.Context) (*Reply, error)
	done chan result
}

// worker is the single writer for one session. Jobs run strictly in arrival
// order on its goroutine.
type worker struct {
	jobs     chan job
	pending  int
	lastUsed time.Time
}

func (o *Orchestrator) submit(ctx context.Context, sessionID string, run func(context.Context) (*Reply, error)) (*Reply, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	w, ok := o.workers[sessionID]
	if !ok {
		w = &worker{jobs: make(chan job), lastUsed: o.now()}
		o.workers[sessionID] = w
		recordWorkers(1)
		go o.loop(sessionID, w)
	}
	w.pending++
	o.mu.Unlock()

	j := job{ctx: ctx, run: run, done: make(chan result, 1)}
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		o.release(sessionID, w)
		return nil, ctx.Err()
	}

	select {
	case res := <-j.done:
		return res.reply, res.err
	case <-ctx.Done():
		// the turn keeps running on the worker and fails on the same context
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) loop(sessionID string, w *worker) {
	for j := range w.jobs {
		reply, err := j.run(j.ctx)
		o.release(sessionID, w)
		j.done <- result{reply: reply, err: err}
	}
}

// release marks one job finished and retires the worker when the
// orchestrator is closing and nothing else is queued.
func (o *Orchestrator) release(sessionID string, w *worker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w.pending--
	w.lastUsed = o.now()
	if o.closed && w.pending == 0 {
		o.dropLocked(sessionID, w)
	}
}

func (o *Orchestrator) dropLocked(sessionID string, w *worker) {
	if cur, ok := o.workers[sessionID]; !ok || cur != w {
		return
	}
	delete(o.workers, sessionID)
	close(w.jobs)
	recordWorkers(-1)
}

// retire drops the session worker if it is idle.
func (o *Orchestrator) retire(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if w, ok := o.workers[sessionID]; ok && w.pending == 0 {
		o.dropLocked(sessionID, w)
	}
}

// EvictIdle retires workers unused for longer than the configured idle
// window. It is meant to be called from the session janitor.
func (o *Orchestrator) EvictIdle(now time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for id, w := range o.workers {
		if w.pending == 0 && now.Sub(w.lastUsed) >= o.cfg.WorkerIdle {
			o.dropLocked(id, w)
			n++
		}
	}
	if n > 0 {
		o.logger.Printf("evicted %d idle session workers", n)
	}
	return n
}

// Workers reports how many session workers are alive.
func (o *Orchestrator) Workers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.workers)
}

// Close stops accepting turns. Workers exit once their queued turns finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	for id, w := range o.workers {
		if w.pending == 0 {
			o.dropLocked(id, w)
		}
	}
}

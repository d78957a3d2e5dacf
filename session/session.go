package session

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/mohammad-safakhou/resourcefinder/models"
)

// Store keeps one append-only conversation per session id. Callers must
// serialise writes per session; the store only guarantees each call is atomic.
type Store interface {
	// Ensure returns id when it names a live session (refreshing its TTL) and
	// otherwise creates a fresh session with a new id.
	Ensure(ctx context.Context, id string) (string, error)
	// Get returns a copy of the conversation or models.ErrSessionNotFound.
	Get(ctx context.Context, id string) (models.Conversation, error)
	// Append adds messages to the end of the conversation in one step.
	Append(ctx context.Context, id string, msgs ...models.Message) error
	Delete(ctx context.Context, id string) error
	// Sweep drops expired sessions and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
}

type StoreType string

const (
	InMemoryStore StoreType = "inmemory"
	RedisStore    StoreType = "redis"
)

// SweepFunc runs on every janitor tick after the store sweep.
type SweepFunc func(now time.Time)

// Janitor sweeps a store on a cron schedule
type Janitor struct {
	store  Store
	expr   *cronexpr.Expression
	hooks  []SweepFunc
	logger *log.Logger
	now    func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}
}

func NewJanitor(store Store, expr *cronexpr.Expression, logger *log.Logger, hooks ...SweepFunc) *Janitor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Janitor{
		store:  store,
		expr:   expr,
		hooks:  hooks,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the janitor until Stop is called or ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	j.startOnce.Do(func() {
		j.started = true
		go j.run(ctx)
	})
}

func (j *Janitor) run(ctx context.Context) {
	defer close(j.done)
	for {
		now := j.now()
		next := j.expr.Next(now)
		if next.IsZero() {
			j.logger.Printf("sweep schedule has no next run, janitor stopping")
			return
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-j.stop:
			timer.Stop()
			return
		case <-timer.C:
			j.Tick(ctx)
		}
	}
}

// Tick performs one sweep immediately.
func (j *Janitor) Tick(ctx context.Context) {
	n, err := j.store.Sweep(ctx)
	if err != nil {
		j.logger.Printf("sweep failed: %v", err)
	} else if n > 0 {
		j.logger.Printf("swept %d expired sessions", n)
	}
	now := j.now()
	for _, h := range j.hooks {
		h(now)
	}
}

// Stop halts a started janitor and waits for it to exit.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stop) })
	if j.started {
		<-j.done
	}
}

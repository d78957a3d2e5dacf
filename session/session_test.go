package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/mohammad-safakhou/resourcefinder/models"
)

type sweepStore struct {
	sweeps atomic.Int32
	err    error
}

func (s *sweepStore) Ensure(context.Context, string) (string, error) { return "id", nil }
func (s *sweepStore) Get(context.Context, string) (models.Conversation, error) {
	return nil, models.ErrSessionNotFound
}
func (s *sweepStore) Append(context.Context, string, ...models.Message) error { return nil }
func (s *sweepStore) Delete(context.Context, string) error                   { return nil }
func (s *sweepStore) Sweep(context.Context) (int, error) {
	s.sweeps.Add(1)
	return 2, s.err
}

func TestJanitorTickRunsHooks(t *testing.T) {
	st := &sweepStore{}
	var hooked time.Time
	j := NewJanitor(st, cronexpr.MustParse("*/5 * * * *"), nil, func(now time.Time) { hooked = now })
	fixed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return fixed }

	j.Tick(context.Background())
	if st.sweeps.Load() != 1 {
		t.Fatalf("expected one sweep, got %d", st.sweeps.Load())
	}
	if !hooked.Equal(fixed) {
		t.Fatalf("hook not called with tick time")
	}

	st.err = errors.New("boom")
	hooked = time.Time{}
	j.Tick(context.Background())
	if hooked.IsZero() {
		t.Fatalf("hooks must run even when the store sweep fails")
	}
}

func TestJanitorStartStop(t *testing.T) {
	st := &sweepStore{}
	j := NewJanitor(st, cronexpr.MustParse("* * * * * * *"), nil)
	j.Start(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for st.sweeps.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	j.Stop()
	if st.sweeps.Load() == 0 {
		t.Fatalf("expected the janitor to sweep at least once")
	}
}

func TestJanitorStopsOnContext(t *testing.T) {
	j := NewJanitor(&sweepStore{}, cronexpr.MustParse("0 0 1 1 *"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx)
	cancel()
	select {
	case <-j.done:
	case <-time.After(time.Second):
		t.Fatalf("janitor did not stop on context cancel")
	}
}

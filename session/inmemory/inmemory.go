package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/resourcefinder/models"
)

type entry struct {
	messages  models.Conversation
	expiresAt time.Time
}

type Store struct {
	sessions map[string]*entry
	ttl      time.Duration
	now      func() time.Time
	mu       sync.RWMutex
}

func NewInMemorySessionStore(ttl time.Duration) *Store {
	return &Store{sessions: make(map[string]*entry), ttl: ttl, now: time.Now}
}

func (store *Store) expired(e *entry, now time.Time) bool {
	return store.ttl > 0 && now.After(e.expiresAt)
}

func (store *Store) Ensure(_ context.Context, id string) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	now := store.now()
	if id != "" {
		if e, ok := store.sessions[id]; ok && !store.expired(e, now) {
			e.expiresAt = now.Add(store.ttl)
			return id, nil
		}
	}

	id = uuid.NewString()
	store.sessions[id] = &entry{expiresAt: now.Add(store.ttl)}
	return id, nil
}

func (store *Store) Get(_ context.Context, id string) (models.Conversation, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	e, ok := store.sessions[id]
	if !ok || store.expired(e, store.now()) {
		return nil, models.ErrSessionNotFound
	}
	return e.messages.Clone(), nil
}

func (store *Store) Append(_ context.Context, id string, msgs ...models.Message) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	now := store.now()
	e, ok := store.sessions[id]
	if !ok || store.expired(e, now) {
		return models.ErrSessionNotFound
	}
	e.messages = append(e.messages, models.Conversation(msgs).Clone()...)
	e.expiresAt = now.Add(store.ttl)
	return nil
}

func (store *Store) Delete(_ context.Context, id string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.sessions, id)
	return nil
}

func (store *Store) Sweep(_ context.Context) (int, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	now := store.now()
	n := 0
	for id, e := range store.sessions {
		if store.expired(e, now) {
			delete(store.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of live and not yet swept sessions.
func (store *Store) Len() int {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return len(store.sessions)
}

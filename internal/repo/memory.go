package repo

import (
	"context"
	"sync"
	"time"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// MemorySessionStore keeps sessions in process memory. Sessions are lost on
// restart, which only forces users to authenticate again.
type MemorySessionStore struct {
	mu sync.Mutex
	m  map[string]domain.Session
}

// NewMemorySessionStore returns an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{m: map[string]domain.Session{}}
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (domain.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[id]
	return sess, ok, nil
}

func (s *MemorySessionStore) Put(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.UpdatedAt = time.Now().UTC()
	s.m[sess.ConversationID] = sess
	return nil
}

func (s *MemorySessionStore) CompareAndSwap(_ context.Context, expected int64, sess domain.Session) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur int64
	if old, ok := s.m[sess.ConversationID]; ok {
		cur = old.Version
	}
	if cur != expected {
		return false, nil
	}
	sess.Version = expected + 1
	sess.UpdatedAt = time.Now().UTC()
	s.m[sess.ConversationID] = sess
	return true, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}

// MemoryCooldownStore keeps cooldowns in process memory.
type MemoryCooldownStore struct {
	mu sync.Mutex
	m  map[domain.CooldownKey]time.Time
}

// NewMemoryCooldownStore returns an empty in-memory cooldown store.
func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{m: map[domain.CooldownKey]time.Time{}}
}

func (s *MemoryCooldownStore) Get(_ context.Context, k domain.CooldownKey) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.m[k]
	return at, ok, nil
}

func (s *MemoryCooldownStore) Set(_ context.Context, k domain.CooldownKey, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[k] = at
	return nil
}

func (s *MemoryCooldownStore) CompareAndSet(_ context.Context, k domain.CooldownKey, prev, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[k]
	switch {
	case prev.IsZero() && ok:
		return false, nil
	case !prev.IsZero() && (!ok || !cur.Equal(prev)):
		return false, nil
	}
	s.m[k] = at
	return true, nil
}

// Prune drops entries dispatched before cutoff.
func (s *MemoryCooldownStore) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, at := range s.m {
		if at.Before(cutoff) {
			delete(s.m, k)
			n++
		}
	}
	return n, nil
}

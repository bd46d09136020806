package rendezvous

import (
	"context"
	"sync"
	"time"
)

// InMemory is a mutex-guarded Store for tests and single-node setups.
type InMemory struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// NewInMemory returns an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{tokens: make(map[string]*Token)}
}

func (s *InMemory) Insert(_ context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *t
	s.tokens[t.Value] = &clone
	return nil
}

func (s *InMemory) Find(_ context.Context, value string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[value]
	if !ok {
		return nil, ErrNotFound
	}
	clone := cloneToken(t)
	return &clone, nil
}

func (s *InMemory) Consume(_ context.Context, value string, channelID int64, now time.Time) (*Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[value]
	if !ok || t.Consumed || !t.ExpiresAt.After(now) {
		return nil, false, nil
	}
	t.Consumed = true
	id := channelID
	t.ClaimedBy = &id
	clone := cloneToken(t)
	return &clone, true, nil
}

func (s *InMemory) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for value, t := range s.tokens {
		if t.ExpiresAt.Before(now) {
			delete(s.tokens, value)
			n++
		}
	}
	return n, nil
}

func cloneToken(t *Token) Token {
	clone := *t
	if t.ClaimedBy != nil {
		id := *t.ClaimedBy
		clone.ClaimedBy = &id
	}
	return clone
}

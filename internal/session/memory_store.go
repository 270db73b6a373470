package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]chan struct{}
	lockWait time.Duration
	now      func() time.Time
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryLockWait sets how long WithLock waits for a busy recipient.
func WithMemoryLockWait(wait time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if wait > 0 {
			s.lockWait = wait
		}
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*Session),
		locks:    make(map[string]chan struct{}),
		lockWait: defaultLockWait,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) lockFor(recipientID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[recipientID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[recipientID] = ch
	}
	return ch
}

func (s *MemoryStore) WithLock(ctx context.Context, recipientID string, fn func(ctx context.Context) error) error {
	lock := s.lockFor(recipientID)
	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrLockTimeout
	}
	defer func() { <-lock }()

	return fn(ctx)
}

func (s *MemoryStore) Get(_ context.Context, recipientID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[recipientID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) FindOrCreate(_ context.Context, recipientID string, seed Seed) (*Session, bool, error) {
	if strings.TrimSpace(recipientID) == "" {
		return nil, false, errors.New("session: recipient id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[recipientID]; ok {
		return sess.Clone(), false, nil
	}
	sess := New(recipientID, seed, s.now())
	s.sessions[recipientID] = sess
	return sess.Clone(), true, nil
}

func (s *MemoryStore) Save(_ context.Context, sess *Session) error {
	if sess == nil || sess.RecipientID == "" {
		return errors.New("session: recipient id required")
	}
	sess.UpdatedAt = s.now().UTC()
	s.mu.Lock()
	s.sessions[sess.RecipientID] = sess.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, recipientID string) error {
	s.mu.Lock()
	delete(s.sessions, recipientID)
	s.mu.Unlock()
	return nil
}

// Len reports how many sessions are held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

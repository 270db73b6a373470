package session

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no active session exists for a recipient.
	ErrNotFound = errors.New("session: not found")

	// ErrLockTimeout is returned when the per-recipient lock could not be acquired in time.
	ErrLockTimeout = errors.New("session: lock wait timed out")

	// ErrLockLost is returned when a lock holder's lease expired and another
	// writer may own the recipient.
	ErrLockLost = errors.New("session: lock lost")
)

// Store holds at most one active session per recipient.
//
// Reads and writes that form a read-modify-write cycle must run inside
// WithLock; the lock is the single-writer guarantee for a recipient.
type Store interface {
	WithLock(ctx context.Context, recipientID string, fn func(ctx context.Context) error) error
	Get(ctx context.Context, recipientID string) (*Session, error)
	// FindOrCreate returns the existing session or atomically stores a new one.
	// The bool is true when the session was created by this call.
	FindOrCreate(ctx context.Context, recipientID string, seed Seed) (*Session, bool, error)
	Save(ctx context.Context, s *Session) error
	// Delete removes the session; deleting a missing key is not an error.
	Delete(ctx context.Context, recipientID string) error
}

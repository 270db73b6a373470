package leads

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is the append-only lead store.
//
// Create is idempotent per OriginSessionID: a second call for the same
// session returns the stored lead and created=false.
type Repository interface {
	Create(ctx context.Context, lead *Lead) (*Lead, bool, error)
	GetByID(ctx context.Context, id string) (*Lead, error)
	FindByOriginSession(ctx context.Context, sessionID string) (*Lead, error)
}

// InMemoryRepository is a Repository backed by process memory.
type InMemoryRepository struct {
	mu        sync.RWMutex
	leads     map[string]*Lead
	bySession map[string]string
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		leads:     make(map[string]*Lead),
		bySession: make(map[string]string),
	}
}

var _ Repository = (*InMemoryRepository)(nil)

func (r *InMemoryRepository) Create(_ context.Context, lead *Lead) (*Lead, bool, error) {
	if err := lead.Validate(); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.bySession[lead.OriginSessionID]; ok {
		return r.leads[id].clone(), false, nil
	}

	stored := lead.clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Source == "" {
		stored.Source = SourceConversationalBot
	}
	stored.CreatedAt = time.Now().UTC()
	r.leads[stored.ID] = stored
	r.bySession[stored.OriginSessionID] = stored.ID

	return stored.clone(), true, nil
}

// GetByID retrieves a lead by ID
func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return lead.clone(), nil
}

func (r *InMemoryRepository) FindByOriginSession(_ context.Context, sessionID string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySession[sessionID]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return r.leads[id].clone(), nil
}

// Count reports how many leads are stored.
func (r *InMemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.leads)
}

package inquiries

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists inquiries.
type Repository interface {
	Create(ctx context.Context, req *CreateInquiryRequest) (*Inquiry, error)
	GetByID(ctx context.Context, id string) (*Inquiry, error)
}

// InMemoryRepository is a map-backed Repository for development and tests.
type InMemoryRepository struct {
	mu        sync.RWMutex
	inquiries map[string]*Inquiry
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{inquiries: make(map[string]*Inquiry)}
}

func (r *InMemoryRepository) Create(_ context.Context, req *CreateInquiryRequest) (*Inquiry, error) {
	recipient, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	inq := &Inquiry{
		ID:              uuid.NewString(),
		RecipientID:     recipient,
		DisplayName:     req.Name,
		ContactEmail:    req.Email,
		ProductInterest: req.ProductInterest,
		Message:         req.Message,
		Source:          req.Source,
		CreatedAt:       time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inquiries[inq.ID] = inq
	out := *inq
	return &out, nil
}

func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*Inquiry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inq, ok := r.inquiries[id]
	if !ok {
		return nil, ErrInquiryNotFound
	}
	out := *inq
	return &out, nil
}

var _ Repository = (*InMemoryRepository)(nil)

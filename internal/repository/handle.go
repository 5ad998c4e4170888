package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/sakif/journal/internal/model"
)

// Opener connects to a storage backend.
type Opener func(ctx context.Context) (Store, error)

// Handle is the process-wide store connection. The backend is opened on first
// use and shared by every request afterwards. A failed open is not cached:
// the next call tries again.
//
// Handle implements Store by delegating, so services can hold it directly.
type Handle struct {
	open Opener

	mu     sync.Mutex
	store  Store
	closed bool
}

var _ Store = (*Handle)(nil)

func NewHandle(open Opener) *Handle {
	return &Handle{open: open}
}

// Get returns the shared store, opening it if needed.
func (h *Handle) Get(ctx context.Context) (Store, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("repository: store handle is closed")
	}
	if h.store != nil {
		return h.store, nil
	}

	s, err := h.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: opening store: %w", err)
	}
	h.store = s
	return s, nil
}

// Close closes the underlying store if it was ever opened. Later calls to Get fail.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	if h.store == nil {
		return nil
	}
	err := h.store.Close()
	h.store = nil
	return err
}

func (h *Handle) Create(ctx context.Context, ownerID string, entry *model.Entry) error {
	s, err := h.Get(ctx)
	if err != nil {
		return err
	}
	return s.Create(ctx, ownerID, entry)
}

func (h *Handle) GetByID(ctx context.Context, ownerID, id string) (*model.Entry, error) {
	s, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, ownerID, id)
}

func (h *Handle) Update(ctx context.Context, ownerID string, entry *model.Entry) error {
	s, err := h.Get(ctx)
	if err != nil {
		return err
	}
	return s.Update(ctx, ownerID, entry)
}

func (h *Handle) Delete(ctx context.Context, ownerID, id string) error {
	s, err := h.Get(ctx)
	if err != nil {
		return err
	}
	return s.Delete(ctx, ownerID, id)
}

func (h *Handle) List(ctx context.Context, ownerID string, filter ListFilter) ([]model.Entry, int, error) {
	s, err := h.Get(ctx)
	if err != nil {
		return nil, 0, err
	}
	return s.List(ctx, ownerID, filter)
}

func (h *Handle) CreateUser(ctx context.Context, user *model.User) error {
	s, err := h.Get(ctx)
	if err != nil {
		return err
	}
	return s.CreateUser(ctx, user)
}

func (h *Handle) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	s, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

func (h *Handle) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	s, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetUserByEmail(ctx, email)
}

func (h *Handle) UpsertGitHubUser(ctx context.Context, user *model.User) error {
	s, err := h.Get(ctx)
	if err != nil {
		return err
	}
	return s.UpsertGitHubUser(ctx, user)
}

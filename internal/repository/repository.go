// Package repository declares the storage contracts the service layer depends on.
//
// Every entry operation takes the owner's user ID as an explicit argument and
// implementations apply it as a query predicate; there is no unscoped access
// path to entries. An entry that exists but belongs to someone else is
// reported exactly like a missing one (apperror.ErrNotFound).
package repository

import (
	"context"

	"github.com/sakif/journal/internal/model"
)

// ListFilter selects and pages entries for one owner.
//
// Search is matched case-insensitively as a literal substring of title or
// content. Tag must be an exact, case-sensitive member of the entry's tags.
// Limit <= 0 means no limit.
type ListFilter struct {
	Search string
	Tag    string
	Offset int
	Limit  int
}

type EntryRepository interface {
	// Create assigns ID, OwnerID and both timestamps on the given entry.
	Create(ctx context.Context, ownerID string, entry *model.Entry) error
	GetByID(ctx context.Context, ownerID, id string) (*model.Entry, error)
	// Update replaces title, content, image, tags and custom fields of the
	// entry with entry.ID, stamps UpdatedAt and fills in CreatedAt.
	Update(ctx context.Context, ownerID string, entry *model.Entry) error
	Delete(ctx context.Context, ownerID, id string) error
	// List returns one page of matches ordered newest first, plus the number
	// of matches ignoring paging.
	List(ctx context.Context, ownerID string, filter ListFilter) ([]model.Entry, int, error)
}

type UserRepository interface {
	// CreateUser fails with apperror.ErrConflict when the email is taken.
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// UpsertGitHubUser refreshes the account linked to user.GitHubID, links a
	// password account with the same email, or inserts a new account, in that
	// order. On return user holds the stored record.
	UpsertGitHubUser(ctx context.Context, user *model.User) error
}

// Store is a complete storage backend.
type Store interface {
	EntryRepository
	UserRepository
	Close() error
}

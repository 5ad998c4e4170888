// Package service contains the business logic layer of the application.
//
// Handlers parse HTTP and call services; services validate input, apply
// defaults and call the repository interfaces. Services never see SQL or
// status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/export"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
)

const (
	// MaxImageBytes is the largest image the client accepts before encoding.
	MaxImageBytes = 5 << 20
	// MaxImageLength bounds the encoded data URL: base64 of MaxImageBytes plus
	// room for the "data:image/<type>;base64," prefix.
	MaxImageLength = 4*((MaxImageBytes+2)/3) + 64

	DefaultPage      = 1
	DefaultListLimit = 10
	MaxListLimit     = 100
)

const imagePrefix = "data:image/"

// EntryInput is the caller-supplied part of an entry, used for both create
// and update. Update replaces every field, so omitted tags, custom fields or
// image are cleared.
type EntryInput struct {
	Title        string             `json:"title"`
	Content      string             `json:"content"`
	Tags         []string           `json:"tags"`
	CustomFields model.CustomFields `json:"customFields"`
	Image        *string            `json:"image"`
}

// ListQuery is a page request. Page and Limit are 1-based and must be >= 1.
type ListQuery struct {
	Search string
	Tag    string
	Page   int
	Limit  int
}

// ListPage is one page of a user's entries.
type ListPage struct {
	Entries    []model.Entry `json:"entries"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"totalPages"`
}

// EntryService enforces validation and ownership for journal entries.
type EntryService struct {
	repo   repository.EntryRepository
	logger *slog.Logger
}

func NewEntryService(repo repository.EntryRepository, logger *slog.Logger) *EntryService {
	return &EntryService{
		repo:   repo,
		logger: logger,
	}
}

// validate checks the input and returns the entry it describes.
// Title and content are checked trimmed but stored as given.
func (in EntryInput) validate() (*model.Entry, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperror.ValidationFailed("title", "title is required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, apperror.ValidationFailed("content", "content is required")
	}

	for key := range in.CustomFields {
		if strings.TrimSpace(key) == "" {
			return nil, apperror.ValidationFailed("customFields", "custom field names must not be empty")
		}
	}

	entry := &model.Entry{
		Title:        in.Title,
		Content:      in.Content,
		Image:        in.Image,
		Tags:         in.Tags,
		CustomFields: in.CustomFields,
	}
	entry.Normalize()

	if entry.Image != nil {
		if !strings.HasPrefix(*entry.Image, imagePrefix) {
			return nil, apperror.ValidationFailed("image", "image must be a data:image/ URL")
		}
		if len(*entry.Image) > MaxImageLength {
			return nil, apperror.ValidationFailed("image", "image must be 5MB or smaller")
		}
	}

	return entry, nil
}

func requireOwner(uid string) error {
	if uid == "" {
		return apperror.Unauthenticated("authentication required")
	}
	return nil
}

// storeFailure logs an unexpected repository error and wraps it. Typed
// failures such as NotFound pass through untouched.
func (s *EntryService) storeFailure(op string, err error, attrs ...any) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	s.logger.Error("failed to "+op, append(attrs, slog.String("error", err.Error()))...)
	return fmt.Errorf("%s: %w", op, err)
}

// Create validates input and stores a new entry owned by uid.
func (s *EntryService) Create(ctx context.Context, uid string, in EntryInput) (*model.Entry, error) {
	if err := requireOwner(uid); err != nil {
		return nil, err
	}
	entry, err := in.validate()
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, uid, entry); err != nil {
		return nil, s.storeFailure("create entry", err, slog.String("owner", uid))
	}

	s.logger.Info("entry created",
		slog.String("id", entry.ID),
		slog.String("owner", uid),
	)
	return entry, nil
}

func (s *EntryService) GetByID(ctx context.Context, uid, id string) (*model.Entry, error) {
	if err := requireOwner(uid); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, apperror.NotFound("entry", id)
	}

	entry, err := s.repo.GetByID(ctx, uid, id)
	if err != nil {
		return nil, s.storeFailure("get entry", err, slog.String("id", id))
	}
	return entry, nil
}

// Update replaces every mutable field of the entry. UpdatedAt advances even
// when nothing changed.
func (s *EntryService) Update(ctx context.Context, uid, id string, in EntryInput) (*model.Entry, error) {
	if err := requireOwner(uid); err != nil {
		return nil, err
	}
	entry, err := in.validate()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, apperror.NotFound("entry", id)
	}
	entry.ID = id

	if err := s.repo.Update(ctx, uid, entry); err != nil {
		return nil, s.storeFailure("update entry", err, slog.String("id", id))
	}

	s.logger.Info("entry updated",
		slog.String("id", entry.ID),
		slog.String("owner", uid),
	)
	return entry, nil
}

func (s *EntryService) Delete(ctx context.Context, uid, id string) error {
	if err := requireOwner(uid); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return apperror.NotFound("entry", id)
	}

	if err := s.repo.Delete(ctx, uid, id); err != nil {
		return s.storeFailure("delete entry", err, slog.String("id", id))
	}

	s.logger.Info("entry deleted",
		slog.String("id", id),
		slog.String("owner", uid),
	)
	return nil
}

// List returns one page of the user's entries, newest first. Limits above
// MaxListLimit are clamped.
func (s *EntryService) List(ctx context.Context, uid string, q ListQuery) (*ListPage, error) {
	if err := requireOwner(uid); err != nil {
		return nil, err
	}
	if q.Page < 1 {
		return nil, apperror.ValidationFailed("page", "page must be a positive integer")
	}
	if q.Limit < 1 {
		return nil, apperror.ValidationFailed("limit", "limit must be a positive integer")
	}
	if q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}

	filter := repository.ListFilter{
		Search: q.Search,
		Tag:    q.Tag,
		Limit:  q.Limit,
	}
	// A page whose offset does not fit in an int is past any real end. Only
	// the total is fetched for it.
	pastEnd := q.Page-1 > math.MaxInt/q.Limit
	if pastEnd {
		filter.Limit = 1
	} else {
		filter.Offset = (q.Page - 1) * q.Limit
	}

	entries, total, err := s.repo.List(ctx, uid, filter)
	if err != nil {
		return nil, s.storeFailure("list entries", err, slog.String("owner", uid))
	}
	if entries == nil || pastEnd {
		entries = []model.Entry{}
	}

	return &ListPage{
		Entries:    entries,
		Total:      total,
		Page:       q.Page,
		Limit:      q.Limit,
		TotalPages: (total + q.Limit - 1) / q.Limit,
	}, nil
}

// Export renders all of the user's entries in the requested format. The
// format is checked before the store is read.
func (s *EntryService) Export(ctx context.Context, uid, format string) (*export.File, error) {
	if err := requireOwner(uid); err != nil {
		return nil, err
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}

	entries, _, err := s.repo.List(ctx, uid, repository.ListFilter{})
	if err != nil {
		return nil, s.storeFailure("export entries", err, slog.String("owner", uid))
	}

	file, err := export.Render(f, entries)
	if err != nil {
		return nil, s.storeFailure("render export", err, slog.String("format", string(f)))
	}

	s.logger.Info("entries exported",
		slog.String("owner", uid),
		slog.String("format", string(f)),
		slog.Int("count", len(entries)),
	)
	return file, nil
}

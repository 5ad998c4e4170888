package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"
	"gorm.io/gorm"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
)

func (r userRecord) toUser() *model.User {
	u := &model.User{
		ID:           r.ID,
		Name:         r.Name,
		PasswordHash: r.PasswordHash,
		AvatarURL:    r.AvatarURL,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.Email != nil {
		u.Email = *r.Email
	}
	if r.GitHubID != nil {
		u.GitHubID = *r.GitHubID
	}
	return u
}

func optional[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	user.Email = strings.ToLower(user.Email)
	now := s.timestamp()
	user.CreatedAt = now
	user.UpdatedAt = now

	record := userRecord{
		ID:           user.ID,
		Name:         user.Name,
		Email:        optional(user.Email),
		PasswordHash: user.PasswordHash,
		GitHubID:     optional(user.GitHubID),
		AvatarURL:    user.AvatarURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperror.Conflict("an account with this email already exists")
		}
		return fmt.Errorf("postgres: creating user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.findUser(ctx, s.db.Where("id = ?", id), id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(email)
	return s.findUser(ctx, s.db.Where("email = ?", email), email)
}

func (s *Store) findUser(ctx context.Context, query *gorm.DB, key string) (*model.User, error) {
	var record userRecord
	if err := query.WithContext(ctx).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("postgres: getting user %s: %w", key, err)
	}
	return record.toUser(), nil
}

// UpsertGitHubUser refreshes by github_id, then links by email, then inserts.
func (s *Store) UpsertGitHubUser(ctx context.Context, user *model.User) error {
	if user.GitHubID == 0 {
		return apperror.ValidationFailed("githubId", "GitHub user ID is required")
	}
	user.Email = strings.ToLower(user.Email)
	now := s.timestamp()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&userRecord{}).
			Where("github_id = ?", user.GitHubID).
			Updates(map[string]any{"name": user.Name, "avatar_url": user.AvatarURL, "updated_at": now})
		if result.Error != nil {
			return fmt.Errorf("postgres: refreshing github user: %w", result.Error)
		}

		if result.RowsAffected == 0 && user.Email != "" {
			result = tx.Model(&userRecord{}).
				Where("email = ? AND github_id IS NULL", user.Email).
				Updates(map[string]any{"github_id": user.GitHubID, "avatar_url": user.AvatarURL, "updated_at": now})
			if result.Error != nil {
				return fmt.Errorf("postgres: linking github user: %w", result.Error)
			}
		}

		if result.RowsAffected == 0 {
			record := userRecord{
				ID:        xid.New().String(),
				Name:      user.Name,
				Email:     optional(user.Email),
				GitHubID:  optional(user.GitHubID),
				AvatarURL: user.AvatarURL,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Create(&record).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return apperror.Conflict("email is linked to another GitHub account")
				}
				return fmt.Errorf("postgres: inserting github user: %w", err)
			}
		}

		var stored userRecord
		if err := tx.Where("github_id = ?", user.GitHubID).First(&stored).Error; err != nil {
			return fmt.Errorf("postgres: reading back github user: %w", err)
		}
		*user = *stored.toUser()
		return nil
	})
}

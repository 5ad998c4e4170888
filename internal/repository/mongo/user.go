package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
)

// userDocument omits empty email and zero github_id so the sparse unique
// indexes skip them.
type userDocument struct {
	ID           string    `bson:"_id"`
	Name         string    `bson:"name"`
	Email        string    `bson:"email,omitempty"`
	PasswordHash string    `bson:"password_hash"`
	GitHubID     int64     `bson:"github_id,omitempty"`
	AvatarURL    string    `bson:"avatar_url"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (d userDocument) toUser() *model.User {
	return &model.User{
		ID:           d.ID,
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		GitHubID:     d.GitHubID,
		AvatarURL:    d.AvatarURL,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	user.Email = strings.ToLower(user.Email)
	now := s.timestamp()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := s.users.InsertOne(ctx, userDocument{
		ID:           user.ID,
		Name:         user.Name,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		GitHubID:     user.GitHubID,
		AvatarURL:    user.AvatarURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.Conflict("an account with this email already exists")
		}
		return fmt.Errorf("mongo: creating user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.findUser(ctx, bson.M{"_id": id}, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(email)
	return s.findUser(ctx, bson.M{"email": email}, email)
}

func (s *Store) findUser(ctx context.Context, filter bson.M, key string) (*model.User, error) {
	var doc userDocument
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("mongo: getting user %s: %w", key, err)
	}
	return doc.toUser(), nil
}

// UpsertGitHubUser tries, in order: refresh by github_id, link by email,
// insert.
func (s *Store) UpsertGitHubUser(ctx context.Context, user *model.User) error {
	if user.GitHubID == 0 {
		return apperror.ValidationFailed("githubId", "GitHub user ID is required")
	}
	user.Email = strings.ToLower(user.Email)
	now := s.timestamp()
	after := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc userDocument
	err := s.users.FindOneAndUpdate(ctx,
		bson.M{"github_id": user.GitHubID},
		bson.M{"$set": bson.M{"name": user.Name, "avatar_url": user.AvatarURL, "updated_at": now}},
		after,
	).Decode(&doc)
	if err == nil {
		*user = *doc.toUser()
		return nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("mongo: refreshing github user: %w", err)
	}

	if user.Email != "" {
		err = s.users.FindOneAndUpdate(ctx,
			bson.M{"email": user.Email, "github_id": bson.M{"$exists": false}},
			bson.M{"$set": bson.M{"github_id": user.GitHubID, "avatar_url": user.AvatarURL, "updated_at": now}},
			after,
		).Decode(&doc)
		if err == nil {
			*user = *doc.toUser()
			return nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("mongo: linking github user: %w", err)
		}
	}

	doc = userDocument{
		ID:        xid.New().String(),
		Name:      user.Name,
		Email:     user.Email,
		GitHubID:  user.GitHubID,
		AvatarURL: user.AvatarURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.Conflict("email is linked to another GitHub account")
		}
		return fmt.Errorf("mongo: inserting github user: %w", err)
	}
	*user = *doc.toUser()
	return nil
}

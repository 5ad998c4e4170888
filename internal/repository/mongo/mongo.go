// Package mongo implements the repository interfaces on MongoDB.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/journal/internal/repository"
)

const (
	entriesCollection = "entries"
	usersCollection   = "users"
)

// Store holds a connected client and the collections the app uses.
type Store struct {
	client  *mongo.Client
	entries *mongo.Collection
	users   *mongo.Collection
	now     func() time.Time
}

var _ repository.Store = (*Store)(nil)

// Connect dials uri, pings the primary and ensures indexes on database dbName.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	clientOptions.SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongo: connecting: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: pinging: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{
		client:  client,
		entries: db.Collection(entriesCollection),
		users:   db.Collection(usersCollection),
		now:     time.Now,
	}

	if err := s.EnsureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the indexes List and the user lookups rely on.
// CreateMany is a no-op for indexes that already exist.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.entries.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "tags", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo: creating entry indexes: %w", err)
	}

	// Sparse so accounts without an email or GitHub link don't collide.
	_, err = s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "github_id", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("mongo: creating user indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// timestamp returns the current time at the precision MongoDB stores, so the
// values handed back to callers equal what a later read returns.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
)

// entryDocument is the stored shape of model.Entry. Custom fields are kept as
// plain BSON scalars so they stay queryable from the mongo shell.
type entryDocument struct {
	ID           string         `bson:"_id"`
	OwnerID      string         `bson:"owner_id"`
	Title        string         `bson:"title"`
	Content      string         `bson:"content"`
	Image        *string        `bson:"image"`
	Tags         []string       `bson:"tags"`
	CustomFields map[string]any `bson:"custom_fields"`
	CreatedAt    time.Time      `bson:"created_at"`
	UpdatedAt    time.Time      `bson:"updated_at"`
}

func toDocument(e *model.Entry) entryDocument {
	return entryDocument{
		ID:           e.ID,
		OwnerID:      e.OwnerID,
		Title:        e.Title,
		Content:      e.Content,
		Image:        e.Image,
		Tags:         e.Tags,
		CustomFields: e.CustomFields.Plain(),
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func (d entryDocument) toEntry() (*model.Entry, error) {
	fields, err := model.CustomFieldsFrom(d.CustomFields)
	if err != nil {
		return nil, fmt.Errorf("mongo: decoding custom fields of %s: %w", d.ID, err)
	}
	e := &model.Entry{
		ID:           d.ID,
		OwnerID:      d.OwnerID,
		Title:        d.Title,
		Content:      d.Content,
		Image:        d.Image,
		Tags:         d.Tags,
		CustomFields: fields,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
	e.Normalize()
	return e, nil
}

func (s *Store) Create(ctx context.Context, ownerID string, entry *model.Entry) error {
	entry.Normalize()
	entry.ID = xid.New().String()
	entry.OwnerID = ownerID
	now := s.timestamp()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	if _, err := s.entries.InsertOne(ctx, toDocument(entry)); err != nil {
		return fmt.Errorf("mongo: creating entry: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, ownerID, id string) (*model.Entry, error) {
	var doc entryDocument
	err := s.entries.FindOne(ctx, bson.M{"_id": id, "owner_id": ownerID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("entry", id)
		}
		return nil, fmt.Errorf("mongo: getting entry %s: %w", id, err)
	}
	return doc.toEntry()
}

// Update replaces the mutable fields in a single round trip and reads the
// stored document back so CreatedAt can be filled in.
func (s *Store) Update(ctx context.Context, ownerID string, entry *model.Entry) error {
	entry.Normalize()
	entry.OwnerID = ownerID
	entry.UpdatedAt = s.timestamp()

	update := bson.M{"$set": bson.M{
		"title":         entry.Title,
		"content":       entry.Content,
		"image":         entry.Image,
		"tags":          entry.Tags,
		"custom_fields": entry.CustomFields.Plain(),
		"updated_at":    entry.UpdatedAt,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc entryDocument
	err := s.entries.FindOneAndUpdate(ctx,
		bson.M{"_id": entry.ID, "owner_id": ownerID}, update, opts,
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return apperror.NotFound("entry", entry.ID)
		}
		return fmt.Errorf("mongo: updating entry %s: %w", entry.ID, err)
	}

	entry.CreatedAt = doc.CreatedAt.UTC()
	return nil
}

func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	result, err := s.entries.DeleteOne(ctx, bson.M{"_id": id, "owner_id": ownerID})
	if err != nil {
		return fmt.Errorf("mongo: deleting entry %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return apperror.NotFound("entry", id)
	}
	return nil
}

// List runs the page query and the count concurrently.
func (s *Store) List(ctx context.Context, ownerID string, filter repository.ListFilter) ([]model.Entry, int, error) {
	query := listQuery(ownerID, filter)

	var (
		docs  []entryDocument
		total int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.entries.CountDocuments(gctx, query)
		if err != nil {
			return fmt.Errorf("mongo: counting entries: %w", err)
		}
		total = n
		return nil
	})
	g.Go(func() error {
		cursor, err := s.entries.Find(gctx, query, findOptions(filter))
		if err != nil {
			return fmt.Errorf("mongo: listing entries: %w", err)
		}
		if err := cursor.All(gctx, &docs); err != nil {
			return fmt.Errorf("mongo: decoding entries: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	entries := make([]model.Entry, 0, len(docs))
	for _, d := range docs {
		e, err := d.toEntry()
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *e)
	}
	return entries, int(total), nil
}

// listQuery builds the owner-scoped filter document. Search text is escaped
// so it matches literally; a tag matches when it equals any array element.
func listQuery(ownerID string, filter repository.ListFilter) bson.M {
	query := bson.M{"owner_id": ownerID}
	if filter.Search != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(filter.Search), Options: "i"}
		query["$or"] = bson.A{
			bson.M{"title": pattern},
			bson.M{"content": pattern},
		}
	}
	if filter.Tag != "" {
		query["tags"] = filter.Tag
	}
	return query
}

// findOptions sorts newest first. xid IDs grow with insertion, so _id breaks
// created_at ties the same way the SQL stores use their sequence column.
func findOptions(filter repository.ListFilter) *options.FindOptions {
	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: -1},
		{Key: "_id", Value: -1},
	})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	return opts
}

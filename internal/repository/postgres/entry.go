package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/rs/xid"
	"gorm.io/gorm"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
)

// mutableColumns are the columns Update rewrites. Listing them in Select makes
// GORM write zero values too, so omitted tags and images are cleared.
var mutableColumns = []string{"title", "content", "image", "tags", "custom_fields", "updated_at"}

func toRecord(e *model.Entry) entryRecord {
	return entryRecord{
		ID:           e.ID,
		OwnerID:      e.OwnerID,
		Title:        e.Title,
		Content:      e.Content,
		Image:        e.Image,
		Tags:         pq.StringArray(e.Tags),
		CustomFields: e.CustomFields,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func (r entryRecord) toEntry() model.Entry {
	e := model.Entry{
		ID:           r.ID,
		OwnerID:      r.OwnerID,
		Title:        r.Title,
		Content:      r.Content,
		Image:        r.Image,
		Tags:         []string(r.Tags),
		CustomFields: r.CustomFields,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	e.Normalize()
	return e
}

// ownedBy is applied to every entry query.
func ownedBy(ownerID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("owner_id = ?", ownerID)
	}
}

// matching narrows by search text and tag. strpos matches literally, so
// LIKE wildcards in the search need no escaping.
func matching(filter repository.ListFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if filter.Search != "" {
			needle := strings.ToLower(filter.Search)
			db = db.Where("(strpos(lower(title), ?) > 0 OR strpos(lower(content), ?) > 0)", needle, needle)
		}
		if filter.Tag != "" {
			db = db.Where("tags @> ?", pq.StringArray{filter.Tag})
		}
		return db
	}
}

func paged(filter repository.ListFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if filter.Offset > 0 {
			db = db.Offset(filter.Offset)
		}
		if filter.Limit > 0 {
			db = db.Limit(filter.Limit)
		}
		return db
	}
}

func (s *Store) Create(ctx context.Context, ownerID string, entry *model.Entry) error {
	entry.Normalize()
	entry.ID = xid.New().String()
	entry.OwnerID = ownerID
	now := s.timestamp()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	record := toRecord(entry)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("postgres: creating entry: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, ownerID, id string) (*model.Entry, error) {
	var record entryRecord
	err := s.db.WithContext(ctx).
		Scopes(ownedBy(ownerID)).
		Where("id = ?", id).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("entry", id)
		}
		return nil, fmt.Errorf("postgres: getting entry %s: %w", id, err)
	}
	e := record.toEntry()
	return &e, nil
}

func (s *Store) Update(ctx context.Context, ownerID string, entry *model.Entry) error {
	entry.Normalize()
	entry.OwnerID = ownerID
	entry.UpdatedAt = s.timestamp()
	record := toRecord(entry)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entryRecord{}).
			Scopes(ownedBy(ownerID)).
			Where("id = ?", entry.ID).
			Select(mutableColumns).
			Updates(&record)
		if result.Error != nil {
			return fmt.Errorf("postgres: updating entry %s: %w", entry.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			return apperror.NotFound("entry", entry.ID)
		}

		var stored entryRecord
		if err := tx.Select("created_at").Where("id = ?", entry.ID).First(&stored).Error; err != nil {
			return fmt.Errorf("postgres: reading back entry %s: %w", entry.ID, err)
		}
		entry.CreatedAt = stored.CreatedAt.UTC()
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	result := s.db.WithContext(ctx).
		Scopes(ownedBy(ownerID)).
		Where("id = ?", id).
		Delete(&entryRecord{})
	if result.Error != nil {
		return fmt.Errorf("postgres: deleting entry %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperror.NotFound("entry", id)
	}
	return nil
}

func (s *Store) List(ctx context.Context, ownerID string, filter repository.ListFilter) ([]model.Entry, int, error) {
	db := s.db.WithContext(ctx)

	var total int64
	if err := db.Model(&entryRecord{}).
		Scopes(ownedBy(ownerID), matching(filter)).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("postgres: counting entries: %w", err)
	}

	var records []entryRecord
	if err := listQuery(db, ownerID, filter).Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("postgres: listing entries: %w", err)
	}

	entries := make([]model.Entry, 0, len(records))
	for _, r := range records {
		entries = append(entries, r.toEntry())
	}
	return entries, int(total), nil
}

func listQuery(db *gorm.DB, ownerID string, filter repository.ListFilter) *gorm.DB {
	return db.Model(&entryRecord{}).
		Scopes(ownedBy(ownerID), matching(filter), paged(filter)).
		Order("created_at DESC, seq DESC")
}

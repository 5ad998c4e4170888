// Package postgres implements the repository interfaces on PostgreSQL via GORM.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
)

// entryRecord is the entries table. Seq is the insertion sequence that breaks
// created_at ties; ID is the public identifier.
type entryRecord struct {
	Seq          int64              `gorm:"primaryKey;autoIncrement"`
	ID           string             `gorm:"type:text;uniqueIndex;not null"`
	OwnerID      string             `gorm:"type:text;not null;index:idx_entries_owner_created,priority:1"`
	Title        string             `gorm:"type:text;not null"`
	Content      string             `gorm:"type:text;not null"`
	Image        *string            `gorm:"type:text"`
	Tags         pq.StringArray     `gorm:"type:text[];not null;default:'{}';index:idx_entries_tags,type:gin"`
	CustomFields model.CustomFields `gorm:"type:jsonb;serializer:json;not null"`
	CreatedAt    time.Time          `gorm:"type:timestamp with time zone;not null;index:idx_entries_owner_created,priority:2,sort:desc"`
	UpdatedAt    time.Time          `gorm:"type:timestamp with time zone;not null"`
}

func (entryRecord) TableName() string { return "entries" }

// userRecord is the users table. Email and GitHubID are pointers so accounts
// without them store NULL, which the unique indexes ignore.
type userRecord struct {
	ID           string    `gorm:"primaryKey;type:text"`
	Name         string    `gorm:"type:text;not null;default:''"`
	Email        *string   `gorm:"type:text;uniqueIndex"`
	PasswordHash string    `gorm:"type:text;not null;default:''"`
	GitHubID     *int64    `gorm:"column:github_id;uniqueIndex"`
	AvatarURL    string    `gorm:"type:text;not null;default:''"`
	CreatedAt    time.Time `gorm:"type:timestamp with time zone;not null"`
	UpdatedAt    time.Time `gorm:"type:timestamp with time zone;not null"`
}

func (userRecord) TableName() string { return "users" }

// Store is a GORM-backed repository.Store.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var _ repository.Store = (*Store)(nil)

// Open connects to dsn and migrates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	s := &Store{now: time.Now}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NowFunc:        s.timestamp,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: connecting: %w", err)
	}
	s.db = db

	if err := db.WithContext(ctx).AutoMigrate(&userRecord{}, &entryRecord{}); err != nil {
		s.Close()
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("postgres: getting pool: %w", err)
	}
	return sqlDB.Close()
}

// timestamp truncates to the microsecond precision PostgreSQL stores.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
)

var _ repository.EntryRepository = (*DB)(nil)

const entryColumns = `id, owner_id, title, content, image, tags, custom_fields, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Create inserts a new entry owned by ownerID. The entry is modified in place:
// ID, OwnerID and both timestamps are set.
func (db *DB) Create(ctx context.Context, ownerID string, entry *model.Entry) error {
	entry.Normalize()
	entry.ID = xid.New().String()
	entry.OwnerID = ownerID
	now := db.now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	tags, fields, err := encodeCollections(entry)
	if err != nil {
		return fmt.Errorf("sqlite: creating entry: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (id, owner_id, title, content, image, tags, custom_fields, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, ownerID, entry.Title, entry.Content, nullableString(entry.Image),
		tags, fields, formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating entry: %w", err)
	}

	if err := insertTags(ctx, tx, entry.ID, ownerID, entry.Tags); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing entry: %w", err)
	}
	return nil
}

// GetByID returns the entry only if it belongs to ownerID.
func (db *DB) GetByID(ctx context.Context, ownerID, id string) (*model.Entry, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ? AND owner_id = ?`,
		id, ownerID,
	)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("entry", id)
		}
		return nil, fmt.Errorf("sqlite: getting entry %s: %w", id, err)
	}
	return entry, nil
}

// Update replaces the mutable fields of an existing entry. The owner predicate
// is part of the WHERE clause, so a foreign entry affects zero rows.
func (db *DB) Update(ctx context.Context, ownerID string, entry *model.Entry) error {
	entry.Normalize()
	entry.OwnerID = ownerID
	entry.UpdatedAt = db.now().UTC()

	tags, fields, err := encodeCollections(entry)
	if err != nil {
		return fmt.Errorf("sqlite: updating entry %s: %w", entry.ID, err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE entries
		 SET title = ?, content = ?, image = ?, tags = ?, custom_fields = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		entry.Title, entry.Content, nullableString(entry.Image), tags, fields,
		formatTime(entry.UpdatedAt), entry.ID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating entry %s: %w", entry.ID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("entry", entry.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entry_tags WHERE entry_id = ?`, entry.ID); err != nil {
		return fmt.Errorf("sqlite: clearing tags of %s: %w", entry.ID, err)
	}
	if err := insertTags(ctx, tx, entry.ID, ownerID, entry.Tags); err != nil {
		return err
	}

	var createdAt string
	if err := tx.QueryRowContext(ctx,
		`SELECT created_at FROM entries WHERE id = ?`, entry.ID,
	).Scan(&createdAt); err != nil {
		return fmt.Errorf("sqlite: reading back entry %s: %w", entry.ID, err)
	}
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing entry %s: %w", entry.ID, err)
	}
	return nil
}

// Delete removes an entry and its tag rows.
func (db *DB) Delete(ctx context.Context, ownerID, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM entries WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting entry %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("entry", id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entry_tags WHERE entry_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting tags of %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing delete of %s: %w", id, err)
	}
	return nil
}

// List returns the owner's entries newest first. Ties on created_at fall back
// to insertion order, newest first, which keeps paging stable.
func (db *DB) List(ctx context.Context, ownerID string, filter repository.ListFilter) ([]model.Entry, int, error) {
	where, args := listWhere(ownerID, filter)

	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: counting entries: %w", err)
	}

	// LIMIT -1 is SQLite for "no limit".
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE `+where+`
		 ORDER BY created_at DESC, seq DESC
		 LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: listing entries: %w", err)
	}
	defer rows.Close()

	entries := make([]model.Entry, 0, max(filter.Limit, 0))
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("sqlite: scanning entry row: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("sqlite: iterating entries: %w", err)
	}

	return entries, total, nil
}

// listWhere builds the shared predicate for List's count and page queries.
func listWhere(ownerID string, filter repository.ListFilter) (string, []any) {
	clauses := []string{"owner_id = ?"}
	args := []any{ownerID}

	if filter.Search != "" {
		// instr() matches literally, so % and _ in the search need no escaping.
		needle := strings.ToLower(filter.Search)
		clauses = append(clauses, "(instr(fold(title), ?) > 0 OR instr(fold(content), ?) > 0)")
		args = append(args, needle, needle)
	}
	if filter.Tag != "" {
		clauses = append(clauses,
			"id IN (SELECT entry_id FROM entry_tags WHERE owner_id = ? AND tag = ?)")
		args = append(args, ownerID, filter.Tag)
	}

	return strings.Join(clauses, " AND "), args
}

func insertTags(ctx context.Context, tx *sql.Tx, entryID, ownerID string, tags []string) error {
	for i, tag := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entry_tags (entry_id, owner_id, position, tag) VALUES (?, ?, ?, ?)`,
			entryID, ownerID, i, tag,
		); err != nil {
			return fmt.Errorf("sqlite: inserting tag %q: %w", tag, err)
		}
	}
	return nil
}

func scanEntry(s rowScanner) (*model.Entry, error) {
	var (
		e                    model.Entry
		image                sql.NullString
		tags, fields         string
		createdAt, updatedAt string
	)
	if err := s.Scan(
		&e.ID, &e.OwnerID, &e.Title, &e.Content, &image,
		&tags, &fields, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if image.Valid {
		e.Image = &image.String
	}
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags of %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(fields), &e.CustomFields); err != nil {
		return nil, fmt.Errorf("decoding custom fields of %s: %w", e.ID, err)
	}

	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	e.Normalize()
	return &e, nil
}

func encodeCollections(e *model.Entry) (tags, fields string, err error) {
	t, err := json.Marshal(e.Tags)
	if err != nil {
		return "", "", fmt.Errorf("encoding tags: %w", err)
	}
	f, err := json.Marshal(e.CustomFields)
	if err != nil {
		return "", "", fmt.Errorf("encoding custom fields: %w", err)
	}
	return string(t), string(f), nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

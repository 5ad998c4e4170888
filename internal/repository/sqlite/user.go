package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, name, email, password_hash, github_id, avatar_url, created_at, updated_at`

// CreateUser inserts a new account. Emails are stored lower-cased; a taken
// email is reported as apperror.ErrConflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	user.Email = strings.ToLower(user.Email)
	now := db.now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, nullableEmail(user.Email), user.PasswordHash,
		nullableGitHubID(user.GitHubID), user.AvatarURL, formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("an account with this email already exists")
		}
		return fmt.Errorf("sqlite: creating user: %w", err)
	}
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(email)
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

// UpsertGitHubUser refreshes the account already linked to user.GitHubID.
// Failing that, an existing password account with the same email is linked.
// Otherwise a new account is inserted. On return user mirrors the stored row.
func (db *DB) UpsertGitHubUser(ctx context.Context, user *model.User) error {
	if user.GitHubID == 0 {
		return apperror.ValidationFailed("githubId", "GitHub user ID is required")
	}
	user.Email = strings.ToLower(user.Email)
	now := formatTime(db.now())

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE users SET name = ?, avatar_url = ?, updated_at = ? WHERE github_id = ?`,
		user.Name, user.AvatarURL, now, user.GitHubID)
	if err != nil {
		return fmt.Errorf("sqlite: refreshing github user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}

	if n == 0 && user.Email != "" {
		result, err = tx.ExecContext(ctx,
			`UPDATE users SET github_id = ?, avatar_url = ?, updated_at = ?
			 WHERE email = ? AND github_id IS NULL`,
			user.GitHubID, user.AvatarURL, now, user.Email)
		if err != nil {
			return fmt.Errorf("sqlite: linking github user: %w", err)
		}
		if n, err = result.RowsAffected(); err != nil {
			return fmt.Errorf("sqlite: checking rows affected: %w", err)
		}
	}

	if n == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			xid.New().String(), user.Name, nullableEmail(user.Email), "",
			user.GitHubID, user.AvatarURL, now, now)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Conflict("email is linked to another GitHub account")
			}
			return fmt.Errorf("sqlite: inserting github user: %w", err)
		}
	}

	stored, err := scanUser(tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE github_id = ?`, user.GitHubID))
	if err != nil {
		return fmt.Errorf("sqlite: reading back github user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing github user: %w", err)
	}

	*user = *stored
	return nil
}

func scanUser(s rowScanner) (*model.User, error) {
	var (
		u                    model.User
		email                sql.NullString
		githubID             sql.NullInt64
		createdAt, updatedAt string
	)
	if err := s.Scan(
		&u.ID, &u.Name, &email, &u.PasswordHash, &githubID,
		&u.AvatarURL, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	u.Email = email.String
	u.GitHubID = githubID.Int64

	var err error
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Empty emails and zero GitHub IDs are stored as NULL so the UNIQUE
// constraints only apply to real values.
func nullableEmail(email string) any {
	if email == "" {
		return nil
	}
	return email
}

func nullableGitHubID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

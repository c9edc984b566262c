package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// UserRepository defines the interface for user account persistence.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	// CreateFirst inserts user only if the table is empty, returning
	// ErrBootstrapClosed otherwise. The check and insert are one statement.
	CreateFirst(ctx context.Context, user *User) error
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]User, error)
	// Patch writes only the fields set in patch and returns the stored
	// record. Fields left nil keep whatever a concurrent writer stored.
	Patch(ctx context.Context, username string, patch UserPatch) (*User, error)
	Delete(ctx context.Context, username string) error
	Count(ctx context.Context) (int, error)
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const userColumns = "username, password_hash, is_admin, host, port, socket_path, created_at, updated_at"

// Create inserts a new user account. CreatedAt and UpdatedAt are set.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	now := stampTimes(user)
	host, port, socket := connectionColumns(user.Connection)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Username, user.PasswordHash, boolToInt(user.IsAdmin),
		host, port, socket, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// CreateFirst implements UserRepository.
func (r *SQLiteUserRepository) CreateFirst(ctx context.Context, user *User) error {
	now := stampTimes(user)
	host, port, socket := connectionColumns(user.Connection)

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (SELECT 1 FROM users)`,
		user.Username, user.PasswordHash, boolToInt(user.IsAdmin),
		host, port, socket, now, now,
	)
	if err != nil {
		return fmt.Errorf("creating initial user: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrBootstrapClosed
	}
	return nil
}

// GetByUsername retrieves a user by username.
func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ?", username)
	return scanUser(row)
}

// List returns all users in creation order.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at ASC, rowid ASC")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// Patch implements UserRepository. The update and the read-back share one
// transaction.
func (r *SQLiteUserRepository) Patch(ctx context.Context, username string, patch UserPatch) (*User, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	sets := []string{"updated_at = ?"}
	args := []any{now}
	if patch.Connection != nil {
		host, port, socket := connectionColumns(patch.Connection)
		sets = append(sets, "host = ?", "port = ?", "socket_path = ?")
		args = append(args, host, port, socket)
	}
	if patch.IsAdmin != nil {
		sets = append(sets, "is_admin = ?")
		args = append(args, boolToInt(*patch.IsAdmin))
	}
	args = append(args, username)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting user update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	result, err := tx.ExecContext(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE username = ?", //nolint:gosec // G202: column names are fixed
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("updating user: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return nil, ErrUserNotFound
	}

	user, err := scanUser(tx.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ?", username))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing user update: %w", err)
	}
	return user, nil
}

// Delete removes a user account.
func (r *SQLiteUserRepository) Delete(ctx context.Context, username string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Count returns the total number of user accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	var u User
	var isAdmin int
	var host, socket sql.NullString
	var port sql.NullInt64
	var createdAt, updatedAt string

	err := s.Scan(&u.Username, &u.PasswordHash, &isAdmin,
		&host, &port, &socket, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.IsAdmin = isAdmin != 0
	switch {
	case socket.Valid:
		u.Connection = SocketTarget{Path: socket.String}
	case host.Valid:
		u.Connection = NetworkTarget{Host: host.String, Port: int(port.Int64)}
	}

	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &u, nil
}

// stampTimes sets CreatedAt and UpdatedAt to now and returns the stored form.
func stampTimes(user *User) string {
	now := time.Now().UTC().Format(time.RFC3339)
	user.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	user.UpdatedAt = user.CreatedAt
	return now
}

// connectionColumns maps the tagged union onto the nullable columns.
func connectionColumns(c ConnectionTarget) (host sql.NullString, port sql.NullInt64, socket sql.NullString) {
	switch t := c.(type) {
	case NetworkTarget:
		host = sql.NullString{String: t.Host, Valid: true}
		port = sql.NullInt64{Int64: int64(t.Port), Valid: true}
	case SocketTarget:
		socket = sql.NullString{String: t.Path, Valid: true}
	}
	return host, port, socket
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation checks if a SQLite error is a primary key or UNIQUE
// constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

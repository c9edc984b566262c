package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Sentinel errors for settings operations.
var (
	ErrStorage       = errors.New("settings storage failure")
	ErrInvalidUserID = errors.New("invalid user id")
	ErrInvalidEntry  = errors.New("invalid settings entry")
	ErrClosed        = errors.New("settings store closed")
)

// Entry is one setting: an id and an arbitrary JSON value.
type Entry struct {
	ID   string `json:"id"`
	Data any    `json:"data"`
}

// Store reads and writes per-user settings.
type Store struct {
	handles *HandleManager
	logger  *slog.Logger
}

// NewStore creates a store over handles.
func NewStore(handles *HandleManager, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{handles: handles, logger: logger}
}

// Get returns the user's settings keyed by id, after legacy key migration.
// A non-empty settingID limits the result to that entry; an unknown id gives
// an empty map.
func (s *Store) Get(ctx context.Context, userID, settingID string) (map[string]any, error) {
	db, err := s.handles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	var rows *sql.Rows
	if settingID != "" {
		rows, err = db.QueryContext(ctx, "SELECT id, data FROM settings WHERE id = ?", settingID)
	} else {
		rows, err = db.QueryContext(ctx, "SELECT id, data FROM settings ORDER BY id")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: querying settings: %w", ErrStorage, err)
	}
	defer rows.Close()

	result := make(map[string]any)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("%w: scanning setting: %w", ErrStorage, err)
		}
		var data any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			// A corrupt row should not hide the user's other settings.
			s.logger.Warn("skipping undecodable setting", "user_id", userID, "setting_id", id, "error", err)
			continue
		}
		result[id] = data
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating settings: %w", ErrStorage, err)
	}

	return MigrateLegacyKeys(result), nil
}

// Set upserts each entry independently. Every entry is attempted; the first
// failure is returned and entries written before or after it stay written.
func (s *Store) Set(ctx context.Context, userID string, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	db, err := s.handles.Get(ctx, userID)
	if err != nil {
		return err
	}

	var first error
	for _, e := range entries {
		if err := s.upsert(ctx, db, e); err != nil {
			s.logger.Error("writing setting", "user_id", userID, "setting_id", e.ID, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) upsert(ctx context.Context, db execer, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidEntry)
	}
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrInvalidEntry, e.ID, err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO settings (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		e.ID, string(raw),
	)
	if err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrStorage, e.ID, err)
	}
	return nil
}

// Close releases every open settings file.
func (s *Store) Close() error {
	return s.handles.Close()
}

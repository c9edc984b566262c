package settings

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/seedgate-core/internal/infrastructure/database"
)

// settingsSchema is the fixed layout of every per-user settings file.
const settingsSchema = `
	CREATE TABLE IF NOT EXISTS settings (
		id   TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`

// HandleManager opens per-user settings databases on first use and keeps
// them open until Close. Concurrent first access for one user opens a
// single handle.
type HandleManager struct {
	root        string
	busyTimeout int

	mu      sync.RWMutex
	handles map[string]*database.DB
	closed  bool

	opening singleflight.Group
}

// NewHandleManager creates a manager storing files under root.
func NewHandleManager(root string, busyTimeout int) *HandleManager {
	return &HandleManager{
		root:        root,
		busyTimeout: busyTimeout,
		handles:     make(map[string]*database.DB),
	}
}

// Path returns the settings file location for userID.
func (m *HandleManager) Path(userID string) (string, error) {
	if err := validateUserID(userID); err != nil {
		return "", err
	}
	return filepath.Join(m.root, userID, "settings", "settings.db"), nil
}

// Get returns the open handle for userID, opening it if needed.
func (m *HandleManager) Get(ctx context.Context, userID string) (*database.DB, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	db, ok := m.handles[userID]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return db, nil
	}

	// The opened handle outlives the request that triggered it.
	openCtx := context.WithoutCancel(ctx)
	v, err, _ := m.opening.Do(userID, func() (any, error) {
		return m.open(openCtx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*database.DB), nil //nolint:forcetypeassert // open only returns *database.DB
}

func (m *HandleManager) open(ctx context.Context, userID string) (*database.DB, error) {
	m.mu.RLock()
	db, ok := m.handles[userID]
	m.mu.RUnlock()
	if ok {
		return db, nil
	}

	path, err := m.Path(userID)
	if err != nil {
		return nil, err
	}
	db, err = database.Open(ctx, database.Config{
		Path:        path,
		WALMode:     true,
		BusyTimeout: m.busyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening settings for %s: %w", ErrStorage, userID, err)
	}
	if err := db.EnsureSchema(ctx, settingsSchema); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		db.Close() //nolint:errcheck // manager shut down while opening
		return nil, ErrClosed
	}
	m.handles[userID] = db
	return db, nil
}

// Evict closes and forgets the handle for userID, if open. The file stays
// on disk.
func (m *HandleManager) Evict(userID string) error {
	m.mu.Lock()
	db, ok := m.handles[userID]
	delete(m.handles, userID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return db.Close()
}

// Open returns the number of cached handles.
func (m *HandleManager) Open() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

// Close closes every handle. Later calls to Get fail with ErrClosed.
func (m *HandleManager) Close() error {
	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[string]*database.DB)
	m.closed = true
	m.mu.Unlock()

	var errs []error
	for _, db := range handles {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// validateUserID rejects ids that would escape the settings root.
func validateUserID(userID string) error {
	if userID == "" || userID == "." || userID == ".." ||
		strings.ContainsAny(userID, `/\`) || strings.ContainsRune(userID, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return nil
}

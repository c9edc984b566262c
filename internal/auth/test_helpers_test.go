package auth

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nerrad567/seedgate-core/internal/infrastructure/database"
	"github.com/nerrad567/seedgate-core/migrations"
)

// testDB opens a temporary SQLite database with the embedded migrations
// applied. It is closed when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "auth.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx, migrations.Source()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedTestUser inserts a user with password "test-password".
func seedTestUser(t *testing.T, repo UserRepository, username string, isAdmin bool) *User {
	t.Helper()

	hash, err := HashPassword("test-password")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	user := &User{
		Username:     username,
		PasswordHash: hash,
		IsAdmin:      isAdmin,
		Connection:   NetworkTarget{Host: "localhost", Port: 5000},
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}
	return user
}

// lifecycleCall is one recorded ServiceLifecycle invocation.
type lifecycleCall struct {
	Op   string
	User User
}

// recordingLifecycle records every call and optionally fails.
type recordingLifecycle struct {
	mu    sync.Mutex
	calls []lifecycleCall
	err   error
}

func (r *recordingLifecycle) record(op string, u User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, lifecycleCall{Op: op, User: u})
	return r.err
}

func (r *recordingLifecycle) Create(_ context.Context, u User) error  { return r.record("create", u) }
func (r *recordingLifecycle) Update(_ context.Context, u User) error  { return r.record("update", u) }
func (r *recordingLifecycle) Destroy(_ context.Context, u User) error { return r.record("destroy", u) }

func (r *recordingLifecycle) Calls(op string) []lifecycleCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []lifecycleCall
	for _, c := range r.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

var errLifecycleDown = errors.New("backend unreachable")

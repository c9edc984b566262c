package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/seedgate-core/internal/audit"
	"github.com/nerrad567/seedgate-core/internal/auth"
	"github.com/nerrad567/seedgate-core/internal/infrastructure/config"
	"github.com/nerrad567/seedgate-core/internal/infrastructure/database"
	"github.com/nerrad567/seedgate-core/internal/infrastructure/logging"
	"github.com/nerrad567/seedgate-core/internal/settings"
	"github.com/nerrad567/seedgate-core/migrations"
)

const (
	testSecret   = "test-secret-key-at-least-32-characters-long"
	testPassword = "test-password"
)

var configTarget = auth.SocketTarget{Path: "/run/seedgate/config.sock"}

// lifecycleCall is one recorded ServiceLifecycle invocation.
type lifecycleCall struct {
	op   string
	user auth.User
}

// recordingLifecycle records every call and optionally fails them.
type recordingLifecycle struct {
	mu    sync.Mutex
	calls []lifecycleCall
	err   error
}

func (l *recordingLifecycle) record(op string, u auth.User) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, lifecycleCall{op: op, user: u})
	return l.err
}

func (l *recordingLifecycle) Create(_ context.Context, u auth.User) error {
	return l.record("create", u)
}

func (l *recordingLifecycle) Update(_ context.Context, u auth.User) error {
	return l.record("update", u)
}

func (l *recordingLifecycle) Destroy(_ context.Context, u auth.User) error {
	return l.record("destroy", u)
}

func (l *recordingLifecycle) Calls(op string) []auth.User {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []auth.User
	for _, c := range l.calls {
		if c.op == op {
			out = append(out, c.user)
		}
	}
	return out
}

func (l *recordingLifecycle) failWith(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

// fakeMetrics records activity metrics.
type fakeMetrics struct {
	mu       sync.Mutex
	auth     []string // "route/outcome"
	settings []bool
}

func (m *fakeMetrics) RecordAuthAttempt(route, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auth = append(m.auth, route+"/"+outcome)
}

func (m *fakeMetrics) RecordSettingsWrite(_ string, _ int, succeeded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = append(m.settings, succeeded)
}

func (m *fakeMetrics) authAttempts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.auth...)
}

// testEnv is a gateway wired to real SQLite stores in a temp directory.
type testEnv struct {
	srv       *Server
	handler   http.Handler
	db        *database.DB
	users     auth.UserRepository
	dir       *auth.Directory
	tokens    *auth.TokenIssuer
	lifecycle *recordingLifecycle
	store     *settings.Store
	auditRepo *audit.SQLiteRepository
	metrics   *fakeMetrics
}

var (
	hashOnce   sync.Once
	cachedHash string
	hashErr    error
)

// testPasswordHash hashes testPassword once per test binary.
func testPasswordHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		cachedHash, hashErr = auth.HashPassword(testPassword)
	})
	if hashErr != nil {
		t.Fatalf("hashing password: %v", hashErr)
	}
	return cachedHash
}

func newTestEnv(t *testing.T, mode AuthMode) *testEnv {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "seedgate.db"),
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

	log := logging.Discard()
	lifecycle := &recordingLifecycle{}
	users := auth.NewUserRepository(db.DB)
	dir := auth.NewDirectory(users, lifecycle, configTarget, log.Logger)

	tokens, err := auth.NewTokenIssuer(testSecret)
	if err != nil {
		t.Fatalf("NewTokenIssuer() error: %v", err)
	}

	store := settings.NewStore(settings.NewHandleManager(t.TempDir(), 5), log.Logger)
	t.Cleanup(func() { store.Close() })

	auditRepo := audit.NewSQLiteRepository(db.DB)
	metrics := &fakeMetrics{}

	srv, err := New(Deps{
		Config: config.ServerConfig{
			Host: "127.0.0.1",
			CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		},
		Logger:    log,
		Mode:      mode,
		Directory: dir,
		Tokens:    tokens,
		Settings:  store,
		AuditRepo: auditRepo,
		Metrics:   metrics,
		Database:  db,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testEnv{
		srv:       srv,
		handler:   srv.Handler(),
		db:        db,
		users:     users,
		dir:       dir,
		tokens:    tokens,
		lifecycle: lifecycle,
		store:     store,
		auditRepo: auditRepo,
		metrics:   metrics,
	}
}

// addUser stores a user with password testPassword, bypassing the
// lifecycle collaborator.
func (e *testEnv) addUser(t *testing.T, username string, isAdmin bool) {
	t.Helper()
	err := e.users.Create(context.Background(), &auth.User{
		Username:     username,
		PasswordHash: testPasswordHash(t),
		IsAdmin:      isAdmin,
		Connection:   auth.NetworkTarget{Host: "localhost", Port: 5000},
	})
	if err != nil {
		t.Fatalf("creating user %s: %v", username, err)
	}
}

// token issues a session token for username with the given admin claim.
func (e *testEnv) token(t *testing.T, username string, isAdmin bool) string {
	t.Helper()
	tok, err := e.tokens.Issue(username, auth.SessionClaims{IsAdmin: isAdmin})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	return tok
}

// reqOption customises a test request.
type reqOption func(*http.Request)

func withToken(token string) reqOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "JWT "+token) }
}

func withCookie(c *http.Cookie) reqOption {
	return func(r *http.Request) { r.AddCookie(c) }
}

// do sends a request to the gateway. body may be nil, a string (sent as
// is) or any value (JSON encoded).
func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...reqOption) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("encoding body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// decode unmarshals a response body into v.
func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

// sessionCookie returns the jwt cookie set by the response, or nil.
func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	return nil
}

// cookieToken strips the scheme from a session cookie value.
func cookieToken(t *testing.T, c *http.Cookie) string {
	t.Helper()
	if !strings.HasPrefix(c.Value, tokenScheme+" ") {
		t.Fatalf("cookie value %q lacks %q scheme", c.Value, tokenScheme)
	}
	return strings.TrimPrefix(c.Value, tokenScheme+" ")
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, want, w.Body.String())
	}
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantCode string) Error {
	t.Helper()
	assertStatus(t, w, wantStatus)
	var e Error
	decode(t, w, &e)
	if e.Code != wantCode {
		t.Errorf("error code = %q, want %q", e.Code, wantCode)
	}
	return e
}

var errLifecycleDown = errors.New("client unreachable")

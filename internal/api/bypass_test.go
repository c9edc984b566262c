package api

import (
	"net/http"
	"testing"

	"github.com/nerrad567/seedgate-core/internal/auth"
)

func TestBypass_Authenticate(t *testing.T) {
	env := newTestEnv(t, AuthBypassed)

	// The body is ignored entirely.
	w := env.do(t, http.MethodPost, "/api/auth/authenticate", `not json`)
	assertStatus(t, w, http.StatusOK)

	var resp sessionResponse
	decode(t, w, &resp)
	if resp.Username != auth.ConfigUsername || !resp.IsAdmin {
		t.Errorf("response = %+v, want admin %s", resp, auth.ConfigUsername)
	}

	c := sessionCookie(w)
	if c == nil {
		t.Fatal("no session cookie set")
	}
	claims, err := env.tokens.Verify(cookieToken(t, c))
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Subject != auth.ConfigUsername {
		t.Errorf("subject = %q, want %q", claims.Subject, auth.ConfigUsername)
	}
	if len(env.metrics.authAttempts()) != 0 {
		t.Error("bypass sign-in recorded an auth attempt")
	}
}

func TestBypass_Verify(t *testing.T) {
	env := newTestEnv(t, AuthBypassed)

	w := env.do(t, http.MethodGet, "/api/auth/verify", nil)
	assertStatus(t, w, http.StatusOK)

	var resp sessionResponse
	decode(t, w, &resp)
	if !resp.Success || resp.Username != auth.ConfigUsername {
		t.Errorf("response = %+v, want session for %s", resp, auth.ConfigUsername)
	}
	if sessionCookie(w) == nil {
		t.Error("verify under bypass did not refresh the session cookie")
	}
}

func TestBypass_DisabledRoutes(t *testing.T) {
	env := newTestEnv(t, AuthBypassed)

	tests := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodPost, "/api/auth/register", registerBody("alice")},
		{http.MethodGet, "/api/auth/users", nil},
		{http.MethodPut, "/api/auth/users", registerBody("alice")},
		{http.MethodPatch, "/api/auth/users/alice", map[string]any{"isAdmin": true}},
		{http.MethodDelete, "/api/auth/users/alice", nil},
		{http.MethodGet, "/api/audit", nil},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body)
			assertErrorCode(t, w, http.StatusNotFound, ErrCodeNotFound)
		})
	}

	if calls := env.lifecycle.Calls("create"); len(calls) != 0 {
		t.Errorf("lifecycle creates = %v, want none", calls)
	}
}

func TestBypass_SettingsAsConfigUser(t *testing.T) {
	env := newTestEnv(t, AuthBypassed)

	w := env.do(t, http.MethodPatch, "/api/settings", map[string]any{"id": "language", "data": "de"})
	assertStatus(t, w, http.StatusNoContent)

	got, err := env.store.Get(t.Context(), auth.ConfigUsername, "language")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got["language"] != "de" {
		t.Errorf("stored language = %v, want de", got["language"])
	}

	w = env.do(t, http.MethodGet, "/api/settings/language", nil)
	assertStatus(t, w, http.StatusOK)
	var body map[string]any
	decode(t, w, &body)
	if body["language"] != "de" {
		t.Errorf("language = %v, want de", body["language"])
	}
}

func TestBypass_LogoutNeedsNoToken(t *testing.T) {
	env := newTestEnv(t, AuthBypassed)

	w := env.do(t, http.MethodGet, "/api/auth/logout", nil)
	assertStatus(t, w, http.StatusOK)
}

package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/seedgate-core/internal/audit"
)

// waitForAudit polls until the repository holds at least n entries.
func waitForAudit(t *testing.T, env *testEnv, n int) []audit.AuditLog {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		result, err := env.auditRepo.List(context.Background(), audit.Filter{})
		if err != nil {
			t.Fatalf("List() error: %v", err)
		}
		if len(result.Logs) >= n {
			return result.Logs
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit entries = %d, want %d", len(result.Logs), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAudit_RecordsAuthAndUserEvents(t *testing.T) {
	env := newTestEnv(t, AuthEnforced)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.srv.startAuditWriter(ctx)
	t.Cleanup(func() { env.srv.Close() })

	w := env.do(t, http.MethodPost, "/api/auth/register", registerBody("alice"))
	assertStatus(t, w, http.StatusOK)
	w = env.do(t, http.MethodPost, "/api/auth/authenticate", map[string]string{"username": "alice", "password": "wrong"})
	assertStatus(t, w, http.StatusUnauthorized)

	logs := waitForAudit(t, env, 2)

	byAction := map[string]audit.AuditLog{}
	for _, l := range logs {
		byAction[l.Action] = l
	}
	reg, ok := byAction[audit.ActionRegister]
	if !ok {
		t.Fatalf("no %s entry in %v", audit.ActionRegister, logs)
	}
	if reg.Username != "alice" || reg.Details["initialUser"] != true {
		t.Errorf("register entry = %+v", reg)
	}
	fail, ok := byAction[audit.ActionLoginFailure]
	if !ok {
		t.Fatalf("no %s entry in %v", audit.ActionLoginFailure, logs)
	}
	if fail.Username != "alice" || fail.Actor != "" {
		t.Errorf("login failure entry = %+v", fail)
	}
	if fail.SourceIP != "192.0.2.1" {
		t.Errorf("source ip = %q, want httptest default", fail.SourceIP)
	}
}

func TestAudit_ListEndpoint(t *testing.T) {
	env := newTestEnv(t, AuthEnforced)
	env.addUser(t, "alice", true)
	env.addUser(t, "bob", false)

	for _, action := range []string{audit.ActionLoginSuccess, audit.ActionLoginFailure, audit.ActionLoginFailure} {
		if err := env.auditRepo.Create(context.Background(), &audit.AuditLog{Action: action, Username: "bob"}); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/audit", nil, withToken(env.token(t, "bob", false)))
	assertErrorCode(t, w, http.StatusForbidden, ErrCodeForbidden)

	w = env.do(t, http.MethodGet, "/api/audit?action=login_failure&limit=1", nil,
		withToken(env.token(t, "alice", true)))
	assertStatus(t, w, http.StatusOK)

	var result audit.ListResult
	decode(t, w, &result)
	if result.Total != 2 {
		t.Errorf("total = %d, want 2", result.Total)
	}
	if len(result.Logs) != 1 || result.Logs[0].Action != audit.ActionLoginFailure {
		t.Errorf("logs = %+v, want one login_failure", result.Logs)
	}
}

func TestAudit_DrainedOnClose(t *testing.T) {
	env := newTestEnv(t, AuthEnforced)
	env.srv.startAuditWriter(context.Background())

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	for i := 0; i < 5; i++ {
		env.srv.auditLog(req, audit.ActionUserDelete, "bob", "alice", nil)
	}
	if err := env.srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	result, err := env.auditRepo.List(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if result.Total != 5 {
		t.Errorf("total = %d, want 5", result.Total)
	}
}

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/seedgate-core/internal/auth"
	"github.com/nerrad567/seedgate-core/internal/infrastructure/config"
	"github.com/nerrad567/seedgate-core/internal/infrastructure/database"
)

const testSecret = "test-secret-for-development-only-0123456789"

// writeConfig writes a minimal configuration with MQTT and InfluxDB
// disabled and returns its path.
func writeConfig(t *testing.T, extra string) (configPath, dbPath string) {
	t.Helper()
	tmpDir := t.TempDir()
	configPath = filepath.Join(tmpDir, "test-config.yaml")
	dbPath = filepath.Join(tmpDir, "seedgate.db")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	content := fmt.Sprintf(`
server:
  host: "127.0.0.1"
  port: %d

database:
  path: %q
  wal_mode: true
  busy_timeout: 5

settings:
  path: %q

auth:
  secret: %q

logging:
  level: error
  format: text
  output: stdout
%s`, port, dbPath, filepath.Join(tmpDir, "users"), testSecret, extra)

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath, dbPath
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv(configPathEnv, "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingSecret verifies run refuses to start without a signing secret.
func TestRun_MissingSecret(t *testing.T) {
	configPath, _ := writeConfig(t, "")
	t.Setenv(configPathEnv, configPath)
	t.Setenv(config.EnvPrefix+"AUTH_SECRET", "short")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with a short secret")
	}
}

// TestRun_StartupAndShutdown starts the gateway and stops it via the context.
func TestRun_StartupAndShutdown(t *testing.T) {
	configPath, _ := writeConfig(t, "")
	t.Setenv(configPathEnv, configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error: %v", err)
	}
}

// TestRun_SeedsInitialAdmin verifies the headless bootstrap path.
func TestRun_SeedsInitialAdmin(t *testing.T) {
	configPath, dbPath := writeConfig(t, `
client:
  socket_path: "/run/rtorrent.sock"
`)
	t.Setenv(configPathEnv, configPath)
	t.Setenv(config.EnvPrefix+"AUTH_INITIAL_ADMIN_USERNAME", "admin")
	t.Setenv(config.EnvPrefix+"AUTH_INITIAL_ADMIN_PASSWORD", "changeme")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error: %v", err)
	}

	db, err := database.Open(context.Background(), database.Config{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("reopening database: %v", err)
	}
	defer db.Close()

	user, err := auth.NewUserRepository(db.DB).GetByUsername(context.Background(), "admin")
	if err != nil {
		t.Fatalf("GetByUsername() error: %v", err)
	}
	if !user.IsAdmin {
		t.Error("seeded user is not an admin")
	}
	if user.Connection != (auth.SocketTarget{Path: "/run/rtorrent.sock"}) {
		t.Errorf("connection = %v, want socket", user.Connection)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv(configPathEnv, "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv(configPathEnv, expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestClientTarget(t *testing.T) {
	tests := []struct {
		name string
		in   config.ClientConfig
		want auth.ConnectionTarget
	}{
		{"empty", config.ClientConfig{}, nil},
		{"network", config.ClientConfig{Host: "localhost", Port: 5000}, auth.NetworkTarget{Host: "localhost", Port: 5000}},
		{"socket", config.ClientConfig{SocketPath: "/run/c.sock"}, auth.SocketTarget{Path: "/run/c.sock"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clientTarget(tt.in); got != tt.want {
				t.Errorf("clientTarget() = %v, want %v", got, tt.want)
			}
		})
	}
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/database"
	"github.com/Hatles/rx-home-sub002/internal/storage"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv(configPathEnv, "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_UnknownProvider(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "auth.db")
	t.Setenv(configPathEnv, writeConfig(t, `
site:
  id: test-site
database:
  path: "`+dbPath+`"
logging:
  level: error
  format: text
auth:
  providers:
    - type: ldap
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with an unregistered provider type")
	}
}

func TestRun_StartupSeedsOwnerAndShutsDown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "auth.db")
	t.Setenv(configPathEnv, writeConfig(t, `
site:
  id: test-site
database:
  path: "`+dbPath+`"
  wal_mode: true
  busy_timeout: 5
logging:
  level: error
  format: text
auth:
  save_delay: 60000
  providers:
    - type: password
  owner:
    username: admin
    name: Admin
`))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	db, err := database.Open(context.Background(), config.DatabaseConfig{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close()

	users, err := auth.NewStore(storage.NewSQLiteBackend(db.DB)).Users(context.Background())
	if err != nil {
		t.Fatalf("Users() error = %v", err)
	}
	var owners []*auth.User
	for _, u := range users {
		if u.IsOwner {
			owners = append(owners, u)
		}
	}
	if len(owners) != 1 || owners[0].Name != "Admin" {
		t.Fatalf("owners = %+v, want the seeded Admin flushed on shutdown", owners)
	}
	if len(owners[0].Credentials) != 1 {
		t.Errorf("owner credentials = %d, want 1", len(owners[0].Credentials))
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(configPathEnv, "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv(configPathEnv, "/custom/path/config.yaml")
	if got := getConfigPath(); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", got)
	}
}

func TestSeedOwner_NoEnroller(t *testing.T) {
	m, err := auth.NewManager(auth.NewStore(storage.NewMemoryBackend()), nil, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	ctx := context.Background()

	if err := seedOwner(ctx, m, nil, config.OwnerConfig{}); err != nil {
		t.Errorf("seedOwner() without username error = %v", err)
	}
	if err := seedOwner(ctx, m, nil, config.OwnerConfig{Username: "admin"}); err == nil {
		t.Error("seedOwner() should fail when no provider can enrol")
	}
}

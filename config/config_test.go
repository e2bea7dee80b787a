package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
database:
  url: postgres://localhost/vjudge
redis:
  addr: localhost:6379
accounts:
  normal:
    - site: hdu
      username: bot1
      password: secret
  contest:
    - site: hdu
      username: ctbot
      password: secret
      authorized_contests: [1001]
`

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.URL != "postgres://localhost/vjudge" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel default = %q, want info", cfg.LogLevel)
	}
	if len(cfg.Accounts.Normal) != 1 || len(cfg.Accounts.Contest) != 1 {
		t.Errorf("unexpected account counts: %+v", cfg.Accounts)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, validConfig+"\nbogus_key: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for an unknown top-level key")
	}
}

func TestLoadRejectsContestAccountWithNoAuthorizedContests(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/vjudge
redis:
  addr: localhost:6379
accounts:
  contest:
    - site: hdu
      username: ctbot
      password: secret
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for a contest account with no authorized_contests")
	}
}

func TestLoadRejectsMissingDatabaseURL(t *testing.T) {
	path := writeConfig(t, `
redis:
  addr: localhost:6379
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for a missing database.url")
	}
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	path := writeConfig(t, validConfig)
	t.Setenv("VJUDGE_REDIS_ADDR", "redis.internal:6380")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("Redis.Addr = %q, want env override to apply", cfg.Redis.Addr)
	}
}

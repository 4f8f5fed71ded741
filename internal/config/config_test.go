package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("expected no error loading defaults, got %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.EntitiesDir != "entities" {
		t.Errorf("expected default entities dir 'entities', got %s", cfg.EntitiesDir)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("expected default store driver 'memory', got %s", cfg.Store.Driver)
	}
	if cfg.Cache.Driver != "none" {
		t.Errorf("expected default cache driver 'none', got %s", cfg.Cache.Driver)
	}
	if cfg.Auth.SessionTTL != 24*time.Hour {
		t.Errorf("expected default session TTL 24h, got %v", cfg.Auth.SessionTTL)
	}
	if cfg.Auth.Users.Collection != "users" {
		t.Errorf("expected default users collection 'users', got %s", cfg.Auth.Users.Collection)
	}
	if cfg.Server.DebugAddr != "" {
		t.Errorf("expected profiling disabled by default, got %s", cfg.Server.DebugAddr)
	}
	if !cfg.Feed.Enabled {
		t.Error("expected feed enabled by default")
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("expected default log info/console, got %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
project_name: shop
entities_dir: defs
server:
  host: 0.0.0.0
  port: 9090
  shutdown_timeout: 10s
  debug_addr: 127.0.0.1:6060
store:
  driver: sqlite
  url: data/shop.db
cache:
  driver: redis
  ttl: 1m
  redis:
    addr: redis:6379
auth:
  secret: super-secret
  session_ttl: 1h
log:
  level: debug
  format: json
`
	if err := os.WriteFile(filepath.Join(dir, "armature.yml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("expected no error loading config, got %v", err)
	}

	if cfg.ProjectName != "shop" {
		t.Errorf("expected project name 'shop', got %s", cfg.ProjectName)
	}
	if cfg.EntitiesDir != "defs" {
		t.Errorf("expected entities dir 'defs', got %s", cfg.EntitiesDir)
	}
	if cfg.Server.Addr() != "0.0.0.0:9090" {
		t.Errorf("expected addr 0.0.0.0:9090, got %s", cfg.Server.Addr())
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("expected shutdown timeout 10s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.DebugAddr != "127.0.0.1:6060" {
		t.Errorf("expected debug addr 127.0.0.1:6060, got %s", cfg.Server.DebugAddr)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.URL != "data/shop.db" {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Cache.Driver != "redis" || cfg.Cache.TTL != time.Minute {
		t.Errorf("unexpected cache config: %+v", cfg.Cache)
	}
	if cfg.Cache.Redis.Addr != "redis:6379" {
		t.Errorf("expected redis addr 'redis:6379', got %s", cfg.Cache.Redis.Addr)
	}
	if cfg.Auth.Secret != "super-secret" || cfg.Auth.SessionTTL != time.Hour {
		t.Errorf("unexpected auth config: %+v", cfg.Auth)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	dir := t.TempDir()
	content := `
store:
  driver: cassandra
`
	if err := os.WriteFile(filepath.Join(dir, "armature.yml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir); err == nil {
		t.Error("expected error for unknown store driver")
	}
}

func TestLoadRequiresURLForSqlite(t *testing.T) {
	dir := t.TempDir()
	content := `
store:
  driver: sqlite
`
	if err := os.WriteFile(filepath.Join(dir, "armature.yml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir); err == nil {
		t.Error("expected error for sqlite driver without url")
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	dir := t.TempDir()
	content := `
log:
  level: loud
`
	if err := os.WriteFile(filepath.Join(dir, "armature.yml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	content := `
server:
  port: 7070
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Server.Port)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ARMATURE_SERVER_PORT", "6060")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Server.Port != 6060 {
		t.Errorf("expected env override port 6060, got %d", cfg.Server.Port)
	}
}

func TestInProject(t *testing.T) {
	dir := t.TempDir()
	if InProject(dir) {
		t.Error("expected InProject false in empty directory")
	}

	if err := os.WriteFile(filepath.Join(dir, "armature.yml"), []byte(""), 0644); err != nil {
		t.Fatal(err)
	}
	if !InProject(dir) {
		t.Error("expected InProject true with config file")
	}
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "armature.yml"), []byte(""), 0644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "src", "deep")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(nested)

	found, err := FindProjectRoot()
	if err != nil {
		t.Fatalf("expected to find project root, got error: %v", err)
	}

	resolvedFound, _ := filepath.EvalSymlinks(found)
	resolvedRoot, _ := filepath.EvalSymlinks(root)
	if resolvedFound != resolvedRoot {
		t.Errorf("expected project root %s, got %s", resolvedRoot, resolvedFound)
	}
}

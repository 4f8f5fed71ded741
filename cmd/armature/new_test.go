package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/armature-dev/armature/internal/config"
	"github.com/armature-dev/armature/loader"
)

func resetNewFlags() {
	newInteractive = false
	newStore = "memory"
	newPort = 8080
	newAuth = false
}

func inTempDir(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	oldWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(oldWd) })
	return tmpDir
}

func TestValidateProjectName(t *testing.T) {
	testCases := []struct {
		name        string
		projectName string
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid name",
			projectName: "my-shop",
			expectError: false,
		},
		{
			name:        "valid name with underscores",
			projectName: "my_shop",
			expectError: false,
		},
		{
			name:        "valid name alphanumeric",
			projectName: "shop123",
			expectError: false,
		},
		{
			name:        "empty string",
			projectName: "",
			expectError: true,
			errorMsg:    "must be 1-100 characters",
		},
		{
			name:        "whitespace only",
			projectName: "   ",
			expectError: true,
			errorMsg:    "must be 1-100 characters",
		},
		{
			name:        "too long",
			projectName: strings.Repeat("a", 101),
			expectError: true,
			errorMsg:    "must be 1-100 characters",
		},
		{
			name:        "contains slash",
			projectName: "my/shop",
			expectError: true,
			errorMsg:    "can only contain letters, numbers, dashes, and underscores",
		},
		{
			name:        "path traversal attempt",
			projectName: "../malicious",
			expectError: true,
			errorMsg:    "can only contain letters, numbers, dashes, and underscores",
		},
		{
			name:        "absolute path",
			projectName: "/usr/bin/shop",
			expectError: true,
			errorMsg:    "cannot be an absolute path",
		},
		{
			name:        "starts with dot",
			projectName: ".hidden",
			expectError: true,
			errorMsg:    "can only contain letters, numbers, dashes, and underscores",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateProjectName(tc.projectName)

			if tc.expectError {
				if err == nil {
					t.Errorf("expected error for project name %q, got nil", tc.projectName)
				} else if tc.errorMsg != "" && !strings.Contains(err.Error(), tc.errorMsg) {
					t.Errorf("expected error to contain %q, got %q", tc.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("expected no error for project name %q, got %v", tc.projectName, err)
				}
			}
		})
	}
}

func TestDefaultStoreURL(t *testing.T) {
	testCases := []struct {
		driver string
		want   string
	}{
		{"memory", ""},
		{"sqlite", filepath.Join("data", "shop.db")},
		{"postgres", "postgres://localhost:5432/shop?sslmode=disable"},
	}

	for _, tc := range testCases {
		if got := defaultStoreURL(tc.driver, "shop"); got != tc.want {
			t.Errorf("defaultStoreURL(%q) = %q, want %q", tc.driver, got, tc.want)
		}
	}
}

func TestRunNewCreatesProject(t *testing.T) {
	resetNewFlags()
	inTempDir(t)

	if err := runNew(newCmd, []string{"shop"}); err != nil {
		t.Fatalf("runNew: %v", err)
	}

	expectedFiles := []string{
		"shop/armature.yml",
		"shop/entities/categories.yaml",
		"shop/entities/products.yaml",
		"shop/.gitignore",
		"shop/README.md",
	}
	for _, file := range expectedFiles {
		if _, err := os.Stat(file); err != nil {
			t.Errorf("expected file %s to exist: %v", file, err)
		}
	}
	if _, err := os.Stat("shop/entities/users.yaml"); err == nil {
		t.Error("users.yaml should only be scaffolded with --auth")
	}

	cfg, err := config.LoadFile("shop/armature.yml")
	if err != nil {
		t.Fatalf("scaffolded config does not load: %v", err)
	}
	if cfg.ProjectName != "shop" {
		t.Errorf("project_name = %q, want shop", cfg.ProjectName)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("store driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}

	registry, err := loader.Build("shop/entities")
	if err != nil {
		t.Fatalf("scaffolded definitions do not build: %v", err)
	}
	if registry.Count() != 2 {
		t.Fatalf("registry has %d collections, want 2", registry.Count())
	}
	categories, err := registry.Lookup("categories")
	if err != nil {
		t.Fatalf("lookup categories: %v", err)
	}
	if len(categories.BackRefs()) != 1 {
		t.Errorf("categories should be referenced by products")
	}
}

func TestRunNewWithAuthScaffoldsUsers(t *testing.T) {
	resetNewFlags()
	newAuth = true
	inTempDir(t)

	if err := runNew(newCmd, []string{"shop"}); err != nil {
		t.Fatalf("runNew: %v", err)
	}

	if _, err := os.Stat("shop/entities/users.yaml"); err != nil {
		t.Fatalf("expected users.yaml to be scaffolded: %v", err)
	}

	cfg, err := config.LoadFile("shop/armature.yml")
	if err != nil {
		t.Fatalf("scaffolded config does not load: %v", err)
	}
	if len(cfg.Auth.Secret) != 64 {
		t.Errorf("auth secret length = %d, want 64 hex characters", len(cfg.Auth.Secret))
	}

	registry, err := loader.Build("shop/entities")
	if err != nil {
		t.Fatalf("scaffolded definitions do not build: %v", err)
	}
	users, err := registry.Lookup("users")
	if err != nil {
		t.Fatalf("lookup users: %v", err)
	}
	if !users.Auth {
		t.Error("users collection should require auth")
	}
}

func TestRunNewSqliteCreatesDataDir(t *testing.T) {
	resetNewFlags()
	newStore = "sqlite"
	inTempDir(t)

	if err := runNew(newCmd, []string{"shop"}); err != nil {
		t.Fatalf("runNew: %v", err)
	}

	info, err := os.Stat("shop/data")
	if err != nil || !info.IsDir() {
		t.Errorf("expected shop/data directory for sqlite store")
	}

	cfg, err := config.LoadFile("shop/armature.yml")
	if err != nil {
		t.Fatalf("scaffolded config does not load: %v", err)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("store driver = %q, want sqlite", cfg.Store.Driver)
	}
	if cfg.Store.URL != filepath.Join("data", "shop.db") {
		t.Errorf("store url = %q, want data/shop.db", cfg.Store.URL)
	}
}

func TestRunNewDirectoryAlreadyExists(t *testing.T) {
	resetNewFlags()
	inTempDir(t)

	if err := os.MkdirAll("existing", 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	err := runNew(newCmd, []string{"existing"})
	if err == nil {
		t.Fatal("expected error when directory already exists, got nil")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("expected 'already exists' error, got: %v", err)
	}
}

func TestRunNewInvalidProjectName(t *testing.T) {
	resetNewFlags()
	inTempDir(t)

	for _, name := range []string{"my/shop", "my.shop", "/tmp/shop"} {
		if err := runNew(newCmd, []string{name}); err == nil {
			t.Errorf("expected error for project name %q, got nil", name)
		}
	}
}

func TestRunNewRejectsUnknownStore(t *testing.T) {
	resetNewFlags()
	newStore = "oracle"
	inTempDir(t)

	err := runNew(newCmd, []string{"shop"})
	if err == nil {
		t.Fatal("expected error for unknown store driver, got nil")
	}
	if !strings.Contains(err.Error(), "store driver") {
		t.Errorf("expected store driver error, got: %v", err)
	}
}

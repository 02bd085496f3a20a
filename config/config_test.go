package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.DSN != ":memory:" {
		t.Errorf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plv8.yaml")
	content := `
storage:
  backend: postgres
  dsn: postgres://localhost/app
bridge:
  start_proc: boot
modules:
  dir: ./lib
  watch: true
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Backend != "postgres" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	if cfg.Bridge.StartProc != "boot" {
		t.Errorf("start_proc = %q", cfg.Bridge.StartProc)
	}
	if !cfg.Modules.Watch || cfg.Modules.Dir != "./lib" {
		t.Errorf("modules = %+v", cfg.Modules)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log format = %q", cfg.Log.Format)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plv8.yaml")
	if err := os.WriteFile(path, []byte("bridge:\n  start_proc: init\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bridge.StartProc != "init" {
		t.Errorf("start_proc = %q", cfg.Bridge.StartProc)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("unset sections should keep defaults, backend = %q", cfg.Storage.Backend)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "oracle" }},
		{"postgres without dsn", func(c *Config) {
			c.Storage.Backend = "postgres"
			c.Storage.DSN = ""
		}},
		{"watch without dir", func(c *Config) {
			c.Modules.Watch = true
			c.Modules.Dir = ""
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation failure")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte(":\n  - ["), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

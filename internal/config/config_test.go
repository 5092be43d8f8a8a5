package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultTemplateValidates(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("default template invalid: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8787" {
		t.Fatalf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Batch.Workers != 4 {
		t.Fatalf("workers = %d", cfg.Batch.Workers)
	}
	if !cfg.Ledger.Enabled || cfg.Ledger.MaxAttempts != 3 {
		t.Fatalf("unexpected ledger defaults: %+v", cfg.Ledger)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"zero workers", func(c *Config) { c.Batch.Workers = 0 }, "batch.workers"},
		{"unknown runtime", func(c *Config) { c.Runtime.Type = "remote" }, "runtime.type"},
		{"zero timeout", func(c *Config) { c.Runtime.TimeoutSeconds = 0 }, "timeout_seconds"},
		{"zero attempts", func(c *Config) { c.Ledger.MaxAttempts = 0 }, "max_attempts"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestLoadOptionalFallsBackToDefaults(t *testing.T) {
	workspace := t.TempDir()
	cfg, err := LoadOptional(workspace)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Runtime.Type != "local" {
		t.Fatalf("runtime type = %s", cfg.Runtime.Type)
	}

	custom := strings.Replace(GenerateDefault(), "workers: 4", "workers: 8", 1)
	if err := os.WriteFile(filepath.Join(workspace, "civicline.yml"), []byte(custom), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = LoadOptional(workspace)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Batch.Workers != 8 {
		t.Fatalf("workers = %d", cfg.Batch.Workers)
	}
}

func TestLoadMissingConfigNamesInitCommand(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "cvl init") {
		t.Fatalf("err = %v", err)
	}
}

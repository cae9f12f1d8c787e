package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Defaults.Project != "inbox" || cfg.Defaults.LeaseMinutes != 60 {
		t.Fatalf("defaults = %+v", cfg.Defaults)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	data := `defaults:
  project: platform
  lease_minutes: 15
identity:
  author: alice
webhooks:
  - url: http://localhost:9000/hook
    events: [task.*]
    secret: s3cret
`
	if err := os.WriteFile(filepath.Join(dir, "hzl.yml"), []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Defaults.Project != "platform" || cfg.Defaults.LeaseMinutes != 15 {
		t.Fatalf("defaults = %+v", cfg.Defaults)
	}
	if cfg.Identity.Author != "alice" {
		t.Fatalf("author = %q", cfg.Identity.Author)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].URL != "http://localhost:9000/hook" {
		t.Fatalf("webhooks = %+v", cfg.Webhooks)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	for name, data := range map[string]string{
		"empty project":  "defaults:\n  project: \"\"\n  lease_minutes: 60\n",
		"negative lease": "defaults:\n  project: inbox\n  lease_minutes: -5\n",
		"hook no url":    "webhooks:\n  - events: [task.*]\n",
	} {
		if _, err := FromYAML([]byte(data)); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestValidateAllowsDisabledLease(t *testing.T) {
	cfg, err := FromYAML([]byte("defaults:\n  project: inbox\n  lease_minutes: 0\n"))
	if err != nil {
		t.Fatalf("zero lease rejected: %v", err)
	}
	if cfg.Defaults.LeaseMinutes != 0 {
		t.Fatalf("lease minutes = %d", cfg.Defaults.LeaseMinutes)
	}
}

func TestGenerateDefaultParses(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("generated default invalid: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

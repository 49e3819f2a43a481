package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr :8080, got %q", cfg.ListenAddr)
	}
	if cfg.DatabasePath != "source2social.db" {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath)
	}
	if cfg.Webhook.Secret != "" || cfg.Webhook.AllowUnsigned {
		t.Fatalf("webhook auth should default to refuse mode, got %+v", cfg.Webhook)
	}
	if len(cfg.Webhook.Repositories) != 0 {
		t.Fatalf("repositories should default to empty (all), got %#v", cfg.Webhook.Repositories)
	}
	if cfg.Webhook.MinMessageLength != 10 || !cfg.Webhook.SkipMerges {
		t.Fatalf("unexpected webhook filter defaults: %+v", cfg.Webhook)
	}
	if cfg.X.CharLimit != 280 {
		t.Fatalf("expected X char limit 280, got %d", cfg.X.CharLimit)
	}
	if cfg.X.RedirectURL != "http://localhost:8080/oauth/x/callback" {
		t.Fatalf("unexpected redirect url %q", cfg.X.RedirectURL)
	}
	if cfg.AI.Timeout != 30*time.Second {
		t.Fatalf("expected 30s AI timeout, got %v", cfg.AI.Timeout)
	}
}

func TestLoadEnvOverridesAndLists(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WEBHOOK_SECRET", "s3cret")
	t.Setenv("WEBHOOK_BRANCHES", "main,release/*")
	t.Setenv("WEBHOOK_REPOSITORIES", "octo/repo, acme/*")
	t.Setenv("WEBHOOK_EXCLUDE_PATHS", "docs/*, *.md")
	t.Setenv("PIPELINE_AUTO_PUBLISH", "true")
	t.Setenv("PORT", "9090")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Webhook.Secret != "s3cret" {
		t.Fatalf("expected secret from env, got %q", cfg.Webhook.Secret)
	}
	if len(cfg.Webhook.Branches) != 2 || cfg.Webhook.Branches[1] != "release/*" {
		t.Fatalf("unexpected branches %#v", cfg.Webhook.Branches)
	}
	if len(cfg.Webhook.Repositories) != 2 || cfg.Webhook.Repositories[1] != "acme/*" {
		t.Fatalf("unexpected repositories %#v", cfg.Webhook.Repositories)
	}
	if len(cfg.Webhook.ExcludePaths) != 2 || cfg.Webhook.ExcludePaths[1] != "*.md" {
		t.Fatalf("unexpected exclude paths %#v", cfg.Webhook.ExcludePaths)
	}
	if !cfg.Pipeline.AutoPublish {
		t.Fatalf("expected auto publish from env")
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("expected listen addr from PORT, got %q", cfg.ListenAddr)
	}
}

func TestLoadConfigFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "pipeline.yaml")
	content := []byte(`
webhook:
  exclude_paths:
    - docs/**
templates:
  feature: "New in {repo}: {content}"
x:
  char_limit: 500
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load([]string{"--config", path, "--listen", "127.0.0.1:7000"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:7000" {
		t.Fatalf("expected flag listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.Templates["feature"] != "New in {repo}: {content}" {
		t.Fatalf("unexpected templates %#v", cfg.Templates)
	}
	if cfg.X.CharLimit != 500 {
		t.Fatalf("expected char limit 500, got %d", cfg.X.CharLimit)
	}
	if len(cfg.Webhook.ExcludePaths) != 1 || cfg.Webhook.ExcludePaths[0] != "docs/**" {
		t.Fatalf("unexpected exclude paths %#v", cfg.Webhook.ExcludePaths)
	}
}

func TestValidateRejectsTemplateWithoutContent(t *testing.T) {
	cfg := AppConfig{
		DatabasePath: "x.db",
		AI:           AIConfig{Timeout: time.Second},
		X:            XConfig{CharLimit: 280, PublishTimeout: time.Second, RefreshTimeout: time.Second},
		Templates:    map[string]string{"fix": "Fixed something in {repo}"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected template validation error")
	}
}

func TestValidateRejectsTemplateWithRepeatedContent(t *testing.T) {
	cfg := AppConfig{
		DatabasePath: "x.db",
		AI:           AIConfig{Timeout: time.Second},
		X:            XConfig{CharLimit: 280, PublishTimeout: time.Second, RefreshTimeout: time.Second},
		Templates:    map[string]string{"default": "{content} | {content}"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected repeated {content} to be rejected")
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV_PATH", "")
	t.Setenv("IMAGIFY_BACKEND_URL", " https://api.imagify.test/// ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BackendURL != "https://api.imagify.test" {
		t.Errorf("BackendURL = %q, want trimmed url", cfg.BackendURL)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", cfg.RequestTimeout)
	}
	if cfg.CreditsMinInterval != 2*time.Second {
		t.Errorf("CreditsMinInterval = %v, want 2s", cfg.CreditsMinInterval)
	}
	if cfg.CheckoutPublicURL != "http://127.0.0.1:8765" {
		t.Errorf("CheckoutPublicURL = %q", cfg.CheckoutPublicURL)
	}
	if cfg.ArchiveEnabled() || cfg.TelegramEnabled() {
		t.Error("optional integrations should be disabled by default")
	}
}

func TestLoadMissingBackend(t *testing.T) {
	t.Setenv("CONFIG_ENV_PATH", "")
	t.Setenv("IMAGIFY_BACKEND_URL", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "IMAGIFY_BACKEND_URL") {
		t.Fatalf("err = %v, want missing IMAGIFY_BACKEND_URL", err)
	}
}

func TestLoadPartialS3(t *testing.T) {
	t.Setenv("CONFIG_ENV_PATH", "")
	t.Setenv("IMAGIFY_BACKEND_URL", "https://api.imagify.test")
	t.Setenv("S3_BUCKET", "images")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for incomplete S3 settings")
	}
	for _, key := range []string{"S3_REGION", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_PUBLIC_BASE_URL"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imagify.env")
	content := "IMAGIFY_BACKEND_URL=backend.imagify.test\nHTTP_TIMEOUT_SECONDS=3\nTELEGRAM_BOT_TOKEN=abc\nTELEGRAM_CHAT_ID=42\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("CONFIG_ENV_PATH", path)
	for _, key := range []string{"IMAGIFY_BACKEND_URL", "HTTP_TIMEOUT_SECONDS", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BackendURL != "https://backend.imagify.test" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.RequestTimeout != 3*time.Second {
		t.Errorf("RequestTimeout = %v, want 3s", cfg.RequestTimeout)
	}
	if !cfg.TelegramEnabled() {
		t.Error("expected telegram forwarding enabled")
	}
}

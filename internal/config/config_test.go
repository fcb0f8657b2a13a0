package config

import (
	"os"
	"path/filepath"
	"testing"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	t.Setenv(key, value)
}

func TestLoadAppliesDefaultsAndNormalizesSecrets(t *testing.T) {
	setEnv(t, "SYSTEM_KEY", "a-system-key-that-is-at-least-32-chars")
	setEnv(t, "INTEGRITY_KEY", "an-integrity-key-that-is-at-least-32c")
	setEnv(t, "ENCAPSILATION_KEY", "an-encapsilation-key-at-least-32-char")
	setEnv(t, "TOKEN_KEY", "a-token-key-that-is-at-least-32-chars")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.DataDir != "data" {
		t.Fatalf("DataDir = %q, want %q", cfg.DataDir, "data")
	}
	if cfg.LockoutLoginWindow != 900 {
		t.Fatalf("LockoutLoginWindow = %d, want 900", cfg.LockoutLoginWindow)
	}
	if cfg.MaxLoginFailures != 5 {
		t.Fatalf("MaxLoginFailures = %d, want 5", cfg.MaxLoginFailures)
	}
	for name, secret := range map[string]Secret{
		"SystemKey":        cfg.SystemKey,
		"IntegrityKey":     cfg.IntegrityKey,
		"EncapsilationKey": cfg.EncapsilationKey,
		"TokenKey":         cfg.TokenKey,
	} {
		if len(secret) != 32 {
			t.Fatalf("len(%s) = %d, want 32", name, len(secret))
		}
	}
}

func TestLoadFailsOnShortSecret(t *testing.T) {
	setEnv(t, "SYSTEM_KEY", "too-short")
	setEnv(t, "INTEGRITY_KEY", "an-integrity-key-that-is-at-least-32c")
	setEnv(t, "ENCAPSILATION_KEY", "an-encapsilation-key-at-least-32-char")
	setEnv(t, "TOKEN_KEY", "a-token-key-that-is-at-least-32-chars")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for short secret")
	}
}

func TestLoadFailsOnMissingSecret(t *testing.T) {
	setEnv(t, "INTEGRITY_KEY", "an-integrity-key-that-is-at-least-32c")
	setEnv(t, "ENCAPSILATION_KEY", "an-encapsilation-key-at-least-32-char")
	setEnv(t, "TOKEN_KEY", "a-token-key-that-is-at-least-32-chars")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing secret")
	}
}

func TestUpdateEnvVarReplacesExistingLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("FOO=old\nBAR=keep\n"), 0o600); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}

	if err := UpdateEnvVar(path, "FOO", "new"); err != nil {
		t.Fatalf("UpdateEnvVar returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if got, want := string(data), "FOO=new\nBAR=keep\n"; got != want {
		t.Fatalf("file contents = %q, want %q", got, want)
	}
}

func TestUpdateEnvVarAppendsWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("BAR=keep\n"), 0o600); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}

	if err := UpdateEnvVar(path, "FOO", "new"); err != nil {
		t.Fatalf("UpdateEnvVar returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if got, want := string(data), "BAR=keep\nFOO=new\n"; got != want {
		t.Fatalf("file contents = %q, want %q", got, want)
	}
}

func TestUpdateEnvVarCreatesFileWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")

	if err := UpdateEnvVar(path, "FOO", "new"); err != nil {
		t.Fatalf("UpdateEnvVar returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if got, want := string(data), "FOO=new\n"; got != want {
		t.Fatalf("file contents = %q, want %q", got, want)
	}
}

func TestUpdateEnvVarRejectsEmptyName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")

	if err := UpdateEnvVar(path, "", "value"); err == nil {
		t.Fatalf("expected error for empty variable name")
	}
}

func TestEncodeB64IsDeterministic(t *testing.T) {
	secret := normalizeSecret("some value")
	a, b := EncodeB64(secret), EncodeB64(secret)
	if a != b {
		t.Fatalf("expected deterministic encoding, got %q vs %q", a, b)
	}
	if a == "" {
		t.Fatalf("expected non-empty encoding")
	}
}

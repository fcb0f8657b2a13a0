package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Hussein-Mazeh/SecureVaultServer/internal/config"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:               t.TempDir(),
		SystemKey:             make32("system"),
		IntegrityKey:          make32("integrity"),
		TokenKey:              make32("token"),
		EncapsilationKey:      make32("encapsilation"),
		ReplaceCorruptedFiles: true,
	}
}

func make32(seed string) config.Secret {
	s := make([]byte, 32)
	copy(s, seed)
	return s
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestSaveLoadUsersRoundTrip(t *testing.T) {
	st := New(testConfig(t), testLogger())

	users := []model.User{{ID: "1", Username: "alice"}}
	if err := st.SaveUsers(users); err != nil {
		t.Fatalf("SaveUsers returned error: %v", err)
	}

	got, err := st.LoadUsers()
	if err != nil {
		t.Fatalf("LoadUsers returned error: %v", err)
	}
	if !reflect.DeepEqual(users, got) {
		t.Fatalf("LoadUsers = %+v, want %+v", got, users)
	}
}

func TestLoadUsersMissingFileReturnsEmpty(t *testing.T) {
	st := New(testConfig(t), testLogger())

	got, err := st.LoadUsers()
	if err != nil {
		t.Fatalf("LoadUsers returned error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no users, got %d", len(got))
	}
}

func TestLoadUsersCorruptedFileResets(t *testing.T) {
	cfg := testConfig(t)
	st := New(cfg, testLogger())

	if err := st.SaveUsers([]model.User{{ID: "1", Username: "alice"}}); err != nil {
		t.Fatalf("SaveUsers returned error: %v", err)
	}

	path := filepath.Join(cfg.DataDir, usersFilename)
	if err := os.WriteFile(path, []byte("not a valid container"), 0o600); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}

	got, err := st.LoadUsers()
	if err != nil {
		t.Fatalf("LoadUsers returned error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected corrupted file to reset to empty, got %d users", len(got))
	}
}

func TestLoadUsersCorruptedFilePropagatesWhenReplaceDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReplaceCorruptedFiles = false
	st := New(cfg, testLogger())

	if err := st.SaveUsers([]model.User{{ID: "1", Username: "alice"}}); err != nil {
		t.Fatalf("SaveUsers returned error: %v", err)
	}

	path := filepath.Join(cfg.DataDir, usersFilename)
	if err := os.WriteFile(path, []byte("not a valid container"), 0o600); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}

	if _, err := st.LoadUsers(); err == nil {
		t.Fatalf("expected error when ReplaceCorruptedFiles is disabled")
	}
}

func TestMutateUsersPersistsAcrossCalls(t *testing.T) {
	st := New(testConfig(t), testLogger())

	if _, err := st.MutateUsers(func(users []model.User) []model.User {
		return append(users, model.User{ID: "1", Username: "alice"})
	}); err != nil {
		t.Fatalf("MutateUsers returned error: %v", err)
	}

	got, err := st.LoadUsers()
	if err != nil {
		t.Fatalf("LoadUsers returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 user, got %d", len(got))
	}
	if got[0].Username != "alice" {
		t.Fatalf("expected username 'alice', got %q", got[0].Username)
	}
}

func TestMutateAttemptsPersists(t *testing.T) {
	st := New(testConfig(t), testLogger())

	if _, err := st.MutateAttempts(func(attempts model.FailedAttempts) model.FailedAttempts {
		attempts["alice"] = append(attempts["alice"], 100)
		return attempts
	}); err != nil {
		t.Fatalf("MutateAttempts returned error: %v", err)
	}

	got, err := st.LoadAttempts()
	if err != nil {
		t.Fatalf("LoadAttempts returned error: %v", err)
	}
	if !reflect.DeepEqual([]int64{100}, got["alice"]) {
		t.Fatalf("LoadAttempts[\"alice\"] = %v, want [100]", got["alice"])
	}
}

func TestMutateTokensRoundTrip(t *testing.T) {
	st := New(testConfig(t), testLogger())

	if _, err := st.MutateTokens(func(tokens []model.Token) []model.Token {
		return append(tokens, model.Token{ID: "tok1", UserID: "1", Exp: 9999999999})
	}); err != nil {
		t.Fatalf("MutateTokens returned error: %v", err)
	}

	got, err := st.LoadTokens()
	if err != nil {
		t.Fatalf("LoadTokens returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 token, got %d", len(got))
	}
	if got[0].ID != "tok1" {
		t.Fatalf("expected token ID 'tok1', got %q", got[0].ID)
	}
}

package token

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/Hussein-Mazeh/SecureVaultServer/internal/config"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/session"
	"github.com/Hussein-Mazeh/SecureVaultServer/krypto"
	"github.com/Hussein-Mazeh/SecureVaultServer/store"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := &config.Config{
		DataDir:               t.TempDir(),
		SystemKey:             make32("system"),
		IntegrityKey:          make32("integrity"),
		TokenKey:              make32("token"),
		EncapsilationKey:      make32("encapsilation"),
		ReplaceCorruptedFiles: true,
	}
	st := store.New(cfg, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	return New(st, session.New(), cfg)
}

func make32(seed string) config.Secret {
	s := make([]byte, 32)
	copy(s, seed)
	return s
}

func TestIssueAndValidateToken(t *testing.T) {
	e := newEngine(t)
	salt, err := krypto.NewRandomSalt(krypto.PasswordSaltLen)
	if err != nil {
		t.Fatalf("NewRandomSalt returned error: %v", err)
	}

	issued, err := e.IssueToken("user-1", "correct-password", salt, 3600)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}
	if issued.PlaintextToken == "" || issued.AuthKey == "" || issued.CSRF == "" {
		t.Fatalf("expected non-empty PlaintextToken/AuthKey/CSRF, got %+v", issued)
	}

	tok, err := e.ValidateToken(issued.PlaintextToken)
	if err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}
	if tok == nil {
		t.Fatalf("expected token to validate")
	}
	if tok.UserID != "user-1" {
		t.Fatalf("UserID = %q, want %q", tok.UserID, "user-1")
	}
}

func TestValidateTokenUnknownPlaintextReturnsNil(t *testing.T) {
	e := newEngine(t)

	tok, err := e.ValidateToken("not-a-real-token")
	if err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}
	if tok != nil {
		t.Fatalf("expected nil token for unknown plaintext, got %+v", tok)
	}
}

func TestIssueTokenPurgesPriorTokensForUser(t *testing.T) {
	e := newEngine(t)
	salt, err := krypto.NewRandomSalt(krypto.PasswordSaltLen)
	if err != nil {
		t.Fatalf("NewRandomSalt returned error: %v", err)
	}

	first, err := e.IssueToken("user-1", "correct-password", salt, 3600)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	second, err := e.IssueToken("user-1", "correct-password", salt, 3600)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	if _, err := e.ValidateToken(first.PlaintextToken); err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}
	stale, err := e.ValidateToken(first.PlaintextToken)
	if err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}
	if stale != nil {
		t.Fatalf("expected first token to be purged once reissued, got %+v", stale)
	}

	fresh, err := e.ValidateToken(second.PlaintextToken)
	if err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}
	if fresh == nil {
		t.Fatalf("expected second token to still validate")
	}
}

func TestRequireTokenRoundTrip(t *testing.T) {
	e := newEngine(t)
	salt, err := krypto.NewRandomSalt(krypto.PasswordSaltLen)
	if err != nil {
		t.Fatalf("NewRandomSalt returned error: %v", err)
	}

	issued, err := e.IssueToken("user-1", "correct-password", salt, 3600)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	req, err := e.RequireToken(issued.PlaintextToken, issued.AuthKey)
	if err != nil {
		t.Fatalf("RequireToken returned error: %v", err)
	}
	if req.Token.UserID != "user-1" {
		t.Fatalf("UserID = %q, want %q", req.Token.UserID, "user-1")
	}
	if string(req.KEK) != string(issued.KEK) {
		t.Fatalf("KEK did not match issued KEK")
	}
}

func TestRequireTokenRejectsWrongAuthKey(t *testing.T) {
	e := newEngine(t)
	salt, err := krypto.NewRandomSalt(krypto.PasswordSaltLen)
	if err != nil {
		t.Fatalf("NewRandomSalt returned error: %v", err)
	}

	issued, err := e.IssueToken("user-1", "correct-password", salt, 3600)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	other, err := e.IssueToken("user-2", "another-password", salt, 3600)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	if _, err := e.RequireToken(issued.PlaintextToken, other.AuthKey); err == nil {
		t.Fatalf("expected error for mismatched auth key")
	}
}

func TestValidateTokenPrunesExpiredEntries(t *testing.T) {
	e := newEngine(t)
	fixed := time.Unix(1_700_000_000, 0)
	e.now = func() time.Time { return fixed }

	salt, err := krypto.NewRandomSalt(krypto.PasswordSaltLen)
	if err != nil {
		t.Fatalf("NewRandomSalt returned error: %v", err)
	}
	issued, err := e.IssueToken("user-1", "correct-password", salt, 1)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	e.now = func() time.Time { return fixed.Add(2 * time.Second) }

	tok, err := e.ValidateToken(issued.PlaintextToken)
	if err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}
	if tok != nil {
		t.Fatalf("expected expired token to be rejected, got %+v", tok)
	}

	tokens, err := e.Store.LoadTokens()
	if err != nil {
		t.Fatalf("LoadTokens returned error: %v", err)
	}
	if len(tokens) != 0 {
		t.Fatalf("expected expired token to be pruned from storage, got %d entries", len(tokens))
	}
}

func TestIssueTokenWithNonPositiveTTLNeverValidates(t *testing.T) {
	e := newEngine(t)
	fixed := time.Unix(1_700_000_000, 0)
	e.now = func() time.Time { return fixed }

	salt, err := krypto.NewRandomSalt(krypto.PasswordSaltLen)
	if err != nil {
		t.Fatalf("NewRandomSalt returned error: %v", err)
	}
	issued, err := e.IssueToken("user-1", "correct-password", salt, 0)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	tok, err := e.ValidateToken(issued.PlaintextToken)
	if err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}
	if tok != nil {
		t.Fatalf("expected a ttl<=0 token to be expired immediately, got %+v", tok)
	}
}

func TestVerifyCSRF(t *testing.T) {
	e := newEngine(t)
	salt, err := krypto.NewRandomSalt(krypto.PasswordSaltLen)
	if err != nil {
		t.Fatalf("NewRandomSalt returned error: %v", err)
	}
	issued, err := e.IssueToken("user-1", "correct-password", salt, 3600)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	tok, err := e.ValidateToken(issued.PlaintextToken)
	if err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}

	if !VerifyCSRF(tok, issued.CSRF) {
		t.Fatalf("expected matching CSRF token to verify")
	}
	if VerifyCSRF(tok, "wrong-csrf-value") {
		t.Fatalf("expected mismatched CSRF token to fail")
	}
	if VerifyCSRF(nil, issued.CSRF) {
		t.Fatalf("expected nil token to fail CSRF verification")
	}
}

func TestRemoveAllTokens(t *testing.T) {
	e := newEngine(t)
	salt, err := krypto.NewRandomSalt(krypto.PasswordSaltLen)
	if err != nil {
		t.Fatalf("NewRandomSalt returned error: %v", err)
	}

	issued, err := e.IssueToken("user-1", "correct-password", salt, 3600)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	if err := e.RemoveAllTokens("user-1"); err != nil {
		t.Fatalf("RemoveAllTokens returned error: %v", err)
	}

	tok, err := e.ValidateToken(issued.PlaintextToken)
	if err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}
	if tok != nil {
		t.Fatalf("expected token to be gone after RemoveAllTokens, got %+v", tok)
	}
}

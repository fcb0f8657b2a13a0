// Package token implements the token engine (C4): issuing, validating, and
// revoking the opaque bearer tokens that stand in for a login, plus the
// auth_key cookie protocol that lets a later request rederive the session's
// KEK without ever persisting the password or the raw login secret.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Hussein-Mazeh/SecureVaultServer/internal/config"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/errs"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/model"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/session"
	"github.com/Hussein-Mazeh/SecureVaultServer/store"
	"github.com/Hussein-Mazeh/SecureVaultServer/krypto"
)

// authorizedMarker is the literal plaintext the auth_key cookie proves
// knowledge of the session KEK by successfully decrypting.
const authorizedMarker = "AUTHORIZED"

var authKeyAAD = []byte("auth_key.v1")

// Engine issues and validates tokens against the persisted token file and
// the in-memory session store.
type Engine struct {
	Store    *store.Store
	Sessions *session.Store
	Cfg      *config.Config

	now func() time.Time
}

func New(st *store.Store, sessions *session.Store, cfg *config.Config) *Engine {
	return &Engine{Store: st, Sessions: sessions, Cfg: cfg, now: time.Now}
}

// Issued is the result of a successful IssueToken call.
type Issued struct {
	PlaintextToken string
	AuthKey        string // sealed "AUTHORIZED" marker, for the auth_key cookie
	CSRF           string
	SessionID      string
	KEK            []byte // the session-bound KEK, for immediately wrapping a vault master key
}

// IssueToken implements get_new_token: derives the login secret, opens a
// fresh session, drops every prior token for userID plus any expired
// entries, and persists the new token record.
func (e *Engine) IssueToken(userID string, password string, userSalt []byte, ttlSeconds int64) (*Issued, error) {
	loginSecret, err := krypto.DeriveLoginSecret(password, userSalt)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "derive login secret", err)
	}

	sessionID := uuid.NewString()
	e.Sessions.Create(sessionID, loginSecret)

	plaintext := uuid.NewString()
	csrf, err := randomHex(32)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "generate csrf token", err)
	}

	kek, err := krypto.DeriveSessionKEK(loginSecret, sessionID)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "derive session kek", err)
	}

	nonce, ciphertext, err := krypto.EncryptAESGCM(kek, []byte(authorizedMarker), authKeyAAD)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "seal auth key", err)
	}
	authKey := sealedBase64(nonce, ciphertext)

	now := e.now().Unix()
	entry := model.Token{
		ID:        krypto.HMACSHA256Hex(e.Cfg.EncapsilationKey, []byte(plaintext)),
		UserID:    userID,
		Exp:       now + ttlSeconds,
		AuthTime:  now,
		SessionID: sessionID,
		CSRF:      csrf,
		SafeLog:   model.TruncateForLog(plaintext),
	}

	_, err = e.Store.MutateTokens(func(tokens []model.Token) []model.Token {
		return append(purgeUser(purgeExpired(tokens, now), userID), entry)
	})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "persist token", err)
	}

	return &Issued{
		PlaintextToken: plaintext,
		AuthKey:        authKey,
		CSRF:           csrf,
		SessionID:      sessionID,
		KEK:            kek,
	}, nil
}

// ValidateToken implements validate_token: purges expired entries
// (persisting the cleanup), then looks the plaintext up by its HMAC id.
func (e *Engine) ValidateToken(plaintext string) (*model.Token, error) {
	id := krypto.HMACSHA256Hex(e.Cfg.EncapsilationKey, []byte(plaintext))
	now := e.now().Unix()

	tokens, err := e.Store.MutateTokens(func(tokens []model.Token) []model.Token {
		return purgeExpired(tokens, now)
	})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "load tokens", err)
	}

	for i := range tokens {
		if krypto.ConstantTimeEqualString(tokens[i].ID, id) {
			t := tokens[i]
			return &t, nil
		}
	}
	return nil, nil
}

// Required is the result of a successful RequireToken call: the validated
// token entry plus the session-bound KEK recovered from the auth_key
// cookie, ready to unwrap a vault master key.
type Required struct {
	Token *model.Token
	KEK   []byte
}

// RequireToken implements require_token: validates the bearer token,
// resolves its session, rederives the KEK, and verifies the auth_key
// cookie decrypts to the AUTHORIZED marker under it.
func (e *Engine) RequireToken(authToken, authKey string) (*Required, error) {
	tok, err := e.ValidateToken(authToken)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, errs.New(errs.Unauthorized, "invalid or expired token")
	}

	entry, ok := e.Sessions.Get(tok.SessionID)
	if !ok {
		return nil, errs.New(errs.Unauthorized, "session expired")
	}

	kek, err := krypto.DeriveSessionKEK(entry.LoginSecret, tok.SessionID)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "derive session kek", err)
	}

	nonce, ciphertext, err := unsealBase64(authKey)
	if err != nil {
		return nil, errs.Wrap(errs.Unauthorized, "invalid authentication key", err)
	}
	marker, err := krypto.DecryptAESGCM(kek, nonce, ciphertext, authKeyAAD)
	if err != nil || string(marker) != authorizedMarker {
		return nil, errs.New(errs.Crypto, "invalid authentication key")
	}

	return &Required{Token: tok, KEK: kek}, nil
}

// VerifyCSRF compares header against the token's stored csrf value in
// constant time, per §9's constant-time-comparison resolution.
func VerifyCSRF(tok *model.Token, header string) bool {
	if tok == nil || header == "" {
		return false
	}
	return krypto.ConstantTimeEqualString(tok.CSRF, header)
}

// RemoveAllTokens implements remove_all_tokens: drops every token entry
// belonging to userID.
func (e *Engine) RemoveAllTokens(userID string) error {
	_, err := e.Store.MutateTokens(func(tokens []model.Token) []model.Token {
		return purgeUser(tokens, userID)
	})
	if err != nil {
		return errs.Wrap(errs.Internal, "revoke tokens", err)
	}
	return nil
}

func purgeExpired(tokens []model.Token, now int64) []model.Token {
	kept := tokens[:0:0]
	for _, t := range tokens {
		if !t.Expired(now) {
			kept = append(kept, t)
		}
	}
	return kept
}

func purgeUser(tokens []model.Token, userID string) []model.Token {
	kept := tokens[:0:0]
	for _, t := range tokens {
		if t.UserID != userID {
			kept = append(kept, t)
		}
	}
	return kept
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func sealedBase64(nonce, ciphertext []byte) string {
	buf := make([]byte, 0, len(nonce)+len(ciphertext))
	buf = append(buf, nonce...)
	buf = append(buf, ciphertext...)
	return base64URL(buf)
}

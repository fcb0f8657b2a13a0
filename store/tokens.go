package store

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Hussein-Mazeh/SecureVaultServer/internal/model"
	"github.com/Hussein-Mazeh/SecureVaultServer/krypto"
)

var tokensAAD = []byte("tokens.v1")

// LoadTokens reads the raw nonce‖AES-GCM(tokens_json) binary file. AEAD
// provides integrity on its own, so — unlike the users and failed-attempts
// containers — there is no separate HMAC signature layer here.
func (s *Store) LoadTokens() ([]model.Token, error) {
	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()
	return s.loadTokensLocked()
}

func (s *Store) loadTokensLocked() ([]model.Token, error) {
	raw, err := os.ReadFile(s.path(tokensFilename))
	if err != nil {
		if os.IsNotExist(err) {
			tokens := []model.Token{}
			return tokens, s.saveTokensLocked(tokens)
		}
		return nil, err
	}
	if len(raw) < 12 {
		return s.resetTokens("tokens file too short to contain a nonce")
	}

	nonce, ciphertext := raw[:12], raw[12:]
	plaintext, err := krypto.DecryptAESGCM(s.cfg.TokenKey, nonce, ciphertext, tokensAAD)
	if err != nil {
		return s.resetTokens(err.Error())
	}

	var tokens []model.Token
	if err := json.Unmarshal(plaintext, &tokens); err != nil {
		return s.resetTokens(err.Error())
	}
	if tokens == nil {
		tokens = []model.Token{}
	}
	return tokens, nil
}

func (s *Store) resetTokens(reason string) ([]model.Token, error) {
	s.log.Warn("tokens file failed to decode, resetting", "reason", reason)
	if !s.cfg.ReplaceCorruptedFiles {
		return nil, fmt.Errorf("tokens file corrupted: %s", reason)
	}
	tokens := []model.Token{}
	return tokens, s.saveTokensLocked(tokens)
}

// SaveTokens encrypts and atomically replaces the tokens file.
func (s *Store) SaveTokens(tokens []model.Token) error {
	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()
	return s.saveTokensLocked(tokens)
}

func (s *Store) saveTokensLocked(tokens []model.Token) error {
	if tokens == nil {
		tokens = []model.Token{}
	}
	plaintext, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}

	nonce, ciphertext, err := krypto.EncryptAESGCM(s.cfg.TokenKey, plaintext, tokensAAD)
	if err != nil {
		return fmt.Errorf("encrypt tokens: %w", err)
	}

	raw := make([]byte, 0, len(nonce)+len(ciphertext))
	raw = append(raw, nonce...)
	raw = append(raw, ciphertext...)

	return atomicWriteFile(s.path(tokensFilename), raw, 0o600)
}

// MutateTokens loads the current token list, passes it to fn for
// modification, and persists the result — all under a single lock hold so
// concurrent handlers cannot interleave a read-modify-write cycle. This is
// the explicit mutex resolution to the source's unserialized token writes.
func (s *Store) MutateTokens(fn func([]model.Token) []model.Token) ([]model.Token, error) {
	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()

	tokens, err := s.loadTokensLocked()
	if err != nil {
		return nil, err
	}
	tokens = fn(tokens)
	if err := s.saveTokensLocked(tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

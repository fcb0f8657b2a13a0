// Package vault implements the master-key wrap/unwrap protocol (vault key
// protocol): a per-user random master key M encrypts the vault body, and M
// itself is wrapped under a session-bound KEK so that password changes
// never require touching the (possibly large) vault ciphertext.
package vault

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/Hussein-Mazeh/SecureVaultServer/krypto"
)

// MasterKeyLen is the size in bytes of a vault master key M.
const MasterKeyLen = 32

var (
	bodyAAD   = []byte("vault.body")
	wrapAAD   = []byte("vault.master-key")
	ErrBadKey = errors.New("vault: wrong key or corrupted ciphertext")
)

// GenerateMasterKey returns a fresh random master key for a user's vault.
func GenerateMasterKey() ([]byte, error) {
	return krypto.NewRandomSalt(MasterKeyLen)
}

// EncryptBody seals plaintext under the master key M, returning
// base64url(nonce‖ciphertext) for storage in the user's vault field.
func EncryptBody(mek, plaintext []byte) (string, error) {
	nonce, ciphertext, err := krypto.EncryptAESGCM(mek, plaintext, bodyAAD)
	if err != nil {
		return "", fmt.Errorf("encrypt vault body: %w", err)
	}
	return encodeSealed(nonce, ciphertext), nil
}

// DecryptBody opens a vault body previously sealed by EncryptBody.
func DecryptBody(mek []byte, sealed string) ([]byte, error) {
	nonce, ciphertext, err := decodeSealed(sealed)
	if err != nil {
		return nil, err
	}
	plaintext, err := krypto.DecryptAESGCM(mek, nonce, ciphertext, bodyAAD)
	if err != nil {
		return nil, ErrBadKey
	}
	return plaintext, nil
}

// WrapMasterKey seals M under a session-bound KEK, for storage in the
// user's vault_master_key_wrapped field.
func WrapMasterKey(kek, mek []byte) (string, error) {
	if len(mek) != MasterKeyLen {
		return "", errors.New("vault: master key must be 32 bytes")
	}
	nonce, ciphertext, err := krypto.EncryptAESGCM(kek, mek, wrapAAD)
	if err != nil {
		return "", fmt.Errorf("wrap master key: %w", err)
	}
	return encodeSealed(nonce, ciphertext), nil
}

// UnwrapMasterKey recovers M given the KEK it was wrapped under.
// Returns ErrBadKey if kek does not match the key M was wrapped with.
func UnwrapMasterKey(kek []byte, wrapped string) ([]byte, error) {
	nonce, ciphertext, err := decodeSealed(wrapped)
	if err != nil {
		return nil, err
	}
	mek, err := krypto.DecryptAESGCM(kek, nonce, ciphertext, wrapAAD)
	if err != nil {
		return nil, ErrBadKey
	}
	return mek, nil
}

// Rewrap unwraps M under oldKEK and rewraps it under newKEK in one step.
// This is what change_pw_protocol calls to resolve the password-change
// rewrap requirement instead of merely logging it.
func Rewrap(oldKEK, newKEK []byte, wrapped string) (string, error) {
	mek, err := UnwrapMasterKey(oldKEK, wrapped)
	if err != nil {
		return "", err
	}
	defer zero(mek)
	return WrapMasterKey(newKEK, mek)
}

func encodeSealed(nonce, ciphertext []byte) string {
	buf := make([]byte, 0, len(nonce)+len(ciphertext))
	buf = append(buf, nonce...)
	buf = append(buf, ciphertext...)
	return base64.URLEncoding.EncodeToString(buf)
}

func decodeSealed(sealed string) (nonce, ciphertext []byte, err error) {
	raw, err := base64.URLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, nil, fmt.Errorf("decode sealed value: %w", err)
	}
	if len(raw) < 12 {
		return nil, nil, errors.New("sealed value too short")
	}
	return raw[:12], raw[12:], nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

package krypto

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

// HashPassword derives a PBKDF2-HMAC-SHA256 digest of password under a fresh
// random salt and encodes salt‖hash as base64. The encoded form is what gets
// persisted on the user record.
func HashPassword(password string) (string, error) {
	salt, err := NewRandomSalt(PasswordSaltLen)
	if err != nil {
		return "", err
	}
	return HashPasswordWithSalt(password, salt)
}

// HashPasswordWithSalt derives and encodes a password digest under an
// explicit salt, for callers that already hold the user's stored salt.
func HashPasswordWithSalt(password string, salt []byte) (string, error) {
	hash, err := DeriveKeyPBKDF2([]byte(password), salt, DefaultPbkdf2Params())
	if err != nil {
		return "", err
	}
	buf := make([]byte, 0, len(salt)+len(hash))
	buf = append(buf, salt...)
	buf = append(buf, hash...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// VerifyPassword checks password against an encoded base64(salt‖hash)
// digest in constant time.
func VerifyPassword(password, encoded string) (bool, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false, errors.New("malformed password digest")
	}
	if len(raw) <= PasswordSaltLen {
		return false, errors.New("malformed password digest")
	}
	salt := raw[:PasswordSaltLen]
	wantHash := raw[PasswordSaltLen:]

	gotHash, err := DeriveKeyPBKDF2([]byte(password), salt, Pbkdf2Params{
		Iterations: Iterations,
		SaltLen:    PasswordSaltLen,
		KeyLen:     len(wantHash),
	})
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(gotHash, wantHash) == 1, nil
}

// DummyHashPassword runs the same derivation work as VerifyPassword against
// a fixed internal salt, without comparing anything. Callers use it to
// equalize the timing of a login attempt against an unknown username.
func DummyHashPassword(password string) {
	salt := make([]byte, PasswordSaltLen)
	_, _ = DeriveKeyPBKDF2([]byte(password), salt, DefaultPbkdf2Params())
}

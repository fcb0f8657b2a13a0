package krypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PasswordSaltLen is the salt size used for password hashing and the
	// per-user salt stored alongside the account (16 random bytes).
	PasswordSaltLen = 16
	// Iterations is the PBKDF2 iteration count for both password hashing
	// and vault KEK base-key derivation.
	Iterations = 600_000
	// DerivedKeyLen is the output size of every PBKDF2 derivation in this
	// package: a 32-byte key.
	DerivedKeyLen = 32
)

// Pbkdf2Params captures the tunable parameters for a PBKDF2-HMAC-SHA256
// derivation. The zero value is invalid; use DefaultPbkdf2Params.
type Pbkdf2Params struct {
	Iterations int
	SaltLen    int
	KeyLen     int
}

// DefaultPbkdf2Params returns the parameters mandated for password hashing
// and vault key derivation: 600,000 iterations, 32-byte output.
func DefaultPbkdf2Params() Pbkdf2Params {
	return Pbkdf2Params{
		Iterations: Iterations,
		SaltLen:    PasswordSaltLen,
		KeyLen:     DerivedKeyLen,
	}
}

// DeriveKeyPBKDF2 derives a key from password and salt using
// PBKDF2-HMAC-SHA256 with the given parameters.
func DeriveKeyPBKDF2(password, salt []byte, p Pbkdf2Params) ([]byte, error) {
	if len(password) == 0 {
		return nil, errors.New("password is required")
	}
	if len(salt) == 0 {
		return nil, errors.New("salt is required")
	}
	if p.Iterations <= 0 {
		return nil, errors.New("iterations must be positive")
	}
	if p.KeyLen <= 0 {
		return nil, errors.New("key length must be positive")
	}

	key := pbkdf2.Key(password, salt, p.Iterations, p.KeyLen, sha256.New)
	if len(key) != p.KeyLen {
		return nil, fmt.Errorf("derived key has unexpected length %d", len(key))
	}
	return key, nil
}

// NewRandomSalt returns a cryptographically secure random salt of length n
// bytes. n<=0 falls back to PasswordSaltLen.
func NewRandomSalt(n int) ([]byte, error) {
	if n <= 0 {
		n = PasswordSaltLen
	}
	salt := make([]byte, n)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

package krypto

// DeriveLoginSecret computes the PBKDF2-HMAC-SHA256 base key the session
// store caches in memory: PBKDF2(password, user_salt, 600_000, 32B).
func DeriveLoginSecret(password string, userSalt []byte) ([]byte, error) {
	return DeriveKeyPBKDF2([]byte(password), userSalt, DefaultPbkdf2Params())
}

// DeriveSessionKEK binds a cached login secret to a specific session id via
// HKDF-SHA256(loginSecret, salt=∅, info=sessionID), producing the 32-byte
// key-encryption-key used to wrap/unwrap a vault master key and to seal the
// auth_key cookie.
func DeriveSessionKEK(loginSecret []byte, sessionID string) ([]byte, error) {
	return HKDFSHA256(loginSecret, nil, []byte(sessionID), DerivedKeyLen)
}

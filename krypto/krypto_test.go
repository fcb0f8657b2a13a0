package krypto

import (
	"strings"
	"testing"
	"time"
)

func TestHashAndVerifyPassword(t *testing.T) {
	encoded, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}

	ok, err := VerifyPassword("correct horse battery staple", encoded)
	if err != nil {
		t.Fatalf("VerifyPassword returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected correct password to verify")
	}

	ok, err = VerifyPassword("wrong password", encoded)
	if err != nil {
		t.Fatalf("VerifyPassword returned error: %v", err)
	}
	if ok {
		t.Fatalf("expected wrong password to fail verification")
	}
}

func TestVerifyPasswordRejectsMalformedDigest(t *testing.T) {
	if _, err := VerifyPassword("anything", "not-valid-base64!!"); err == nil {
		t.Fatalf("expected error for malformed digest")
	}
}

func TestDeriveKeyPBKDF2Deterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	params := Pbkdf2Params{Iterations: 1000, SaltLen: len(salt), KeyLen: 32}

	k1, err := DeriveKeyPBKDF2([]byte("password"), salt, params)
	if err != nil {
		t.Fatalf("DeriveKeyPBKDF2 returned error: %v", err)
	}
	k2, err := DeriveKeyPBKDF2([]byte("password"), salt, params)
	if err != nil {
		t.Fatalf("DeriveKeyPBKDF2 returned error: %v", err)
	}
	if string(k1) != string(k2) {
		t.Fatalf("expected deterministic derivation for identical inputs")
	}

	k3, err := DeriveKeyPBKDF2([]byte("different"), salt, params)
	if err != nil {
		t.Fatalf("DeriveKeyPBKDF2 returned error: %v", err)
	}
	if string(k1) == string(k3) {
		t.Fatalf("expected different passwords to derive different keys")
	}
}

func TestTOTPRoundTrip(t *testing.T) {
	secret, err := NewTOTPSecret()
	if err != nil {
		t.Fatalf("NewTOTPSecret returned error: %v", err)
	}

	code, err := TOTPCode(secret, time.Now())
	if err != nil {
		t.Fatalf("TOTPCode returned error: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}

	if !VerifyTOTP(secret, code) {
		t.Fatalf("expected freshly generated code to verify")
	}
	if VerifyTOTP(secret, "000000000") {
		t.Fatalf("expected malformed code to fail verification")
	}
}

func TestHMACSHA256HexDeterministic(t *testing.T) {
	key := []byte("key")
	a := HMACSHA256Hex(key, []byte("data"))
	b := HMACSHA256Hex(key, []byte("data"))
	if a != b {
		t.Fatalf("expected deterministic HMAC for identical inputs")
	}

	c := HMACSHA256Hex(key, []byte("other data"))
	if a == c {
		t.Fatalf("expected different inputs to produce different HMACs")
	}
}

func TestEncryptDecryptAESGCMRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	aad := []byte("context")

	nonce, ciphertext, err := EncryptAESGCM(key, []byte("secret message"), aad)
	if err != nil {
		t.Fatalf("EncryptAESGCM returned error: %v", err)
	}

	plaintext, err := DecryptAESGCM(key, nonce, ciphertext, aad)
	if err != nil {
		t.Fatalf("DecryptAESGCM returned error: %v", err)
	}
	if string(plaintext) != "secret message" {
		t.Fatalf("expected decrypted plaintext to round-trip, got %q", plaintext)
	}

	if _, err := DecryptAESGCM(key, nonce, ciphertext, []byte("wrong aad")); err == nil {
		t.Fatalf("expected error when AAD does not match")
	}
}

func TestProvisioningURIEscapesLabel(t *testing.T) {
	uri := ProvisioningURI("Issuer Name", "user@example.com", "JBSWY3DPEHPK3PXP")
	if !strings.Contains(uri, "otpauth://totp/") {
		t.Fatalf("expected otpauth scheme, got %q", uri)
	}
	if !strings.Contains(uri, "otpauth://totp/Issuer%20Name%3Auser%40example.com?") {
		t.Fatalf("expected escaped label, got %q", uri)
	}
	if !strings.Contains(uri, "secret=JBSWY3DPEHPK3PXP") {
		t.Fatalf("expected secret param, got %q", uri)
	}
}

// Package store implements the encrypted, integrity-checked persistence
// layer (C2): whole-file containers for users and failed attempts, and a
// raw-AEAD binary file for tokens. Every write is a full-file atomic
// replacement, adapting the temp-file-then-rename pattern the teacher's
// vault header writer already used.
package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Hussein-Mazeh/SecureVaultServer/internal/config"
	"github.com/Hussein-Mazeh/SecureVaultServer/krypto"
)

// ErrIntegrity indicates a container's recomputed HMAC did not match the
// signature stored alongside it — a critical integrity event.
var ErrIntegrity = errors.New("store: integrity signature mismatch")

var containerAAD = []byte("container.v1")

type container struct {
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

// canonicalize reformats a JSON value (already-encoded bytes) the same way
// on every call: decode into Go's generic representation and re-encode
// with a two-space indent. encoding/json always emits map keys in sorted
// order, so this reproduces the original's json.dumps(sort_keys=True,
// indent=2) canonicalization without needing a custom encoder.
func canonicalize(raw json.RawMessage) ([]byte, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return json.MarshalIndent(generic, "", "  ")
}

// saveContainer encrypts data as {"data": ..., "signature": HMAC} under
// systemKey/integrityKey and atomically replaces path.
func saveContainer(path string, systemKey, integrityKey config.Secret, data any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal container data: %w", err)
	}

	canon, err := canonicalize(dataJSON)
	if err != nil {
		return err
	}
	sig := krypto.HMACSHA256Hex(integrityKey, canon)

	c := container{Data: dataJSON, Signature: sig}
	plaintext, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal container: %w", err)
	}

	nonce, ciphertext, err := krypto.EncryptAESGCM(systemKey, plaintext, containerAAD)
	if err != nil {
		return fmt.Errorf("encrypt container: %w", err)
	}

	sealed := make([]byte, 0, len(nonce)+len(ciphertext))
	sealed = append(sealed, nonce...)
	sealed = append(sealed, ciphertext...)
	encoded := base64.URLEncoding.EncodeToString(sealed)

	return atomicWriteFile(path, []byte(encoded), 0o600)
}

// loadContainer decrypts path and verifies its signature, unmarshaling
// Data into out. On an integrity mismatch it returns ErrIntegrity, and on
// a read, decode or decrypt failure the underlying error; whether the file
// is then reset is decided by the caller (Store.handleCorruption).
func loadContainer(path string, systemKey, integrityKey config.Secret, out any) error {
	encoded, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	sealed, err := base64.URLEncoding.DecodeString(string(encoded))
	if err != nil {
		return fmt.Errorf("decode container: %w", err)
	}
	if len(sealed) < 12 {
		return errors.New("store: container too short")
	}
	nonce, ciphertext := sealed[:12], sealed[12:]

	plaintext, err := krypto.DecryptAESGCM(systemKey, nonce, ciphertext, containerAAD)
	if err != nil {
		return fmt.Errorf("decrypt container: %w", err)
	}

	var c container
	if err := json.Unmarshal(plaintext, &c); err != nil {
		return fmt.Errorf("unmarshal container: %w", err)
	}

	canon, err := canonicalize(c.Data)
	if err != nil {
		return err
	}
	wantSig := krypto.HMACSHA256Hex(integrityKey, canon)
	if !krypto.ConstantTimeEqualString(wantSig, c.Signature) {
		return ErrIntegrity
	}

	return json.Unmarshal(c.Data, out)
}

// atomicWriteFile writes data to path by creating a sibling temp file,
// setting its permissions, and renaming it over the target — the same
// create-then-rename sequence the teacher's vault header writer used.
func atomicWriteFile(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

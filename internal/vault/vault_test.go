package vault

import (
	"errors"
	"testing"
)

func TestEncryptDecryptBodyRoundTrip(t *testing.T) {
	mek, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey returned error: %v", err)
	}

	sealed, err := EncryptBody(mek, []byte(`{"site":"example.com"}`))
	if err != nil {
		t.Fatalf("EncryptBody returned error: %v", err)
	}

	plaintext, err := DecryptBody(mek, sealed)
	if err != nil {
		t.Fatalf("DecryptBody returned error: %v", err)
	}
	if string(plaintext) != `{"site":"example.com"}` {
		t.Fatalf("expected decrypted body to round-trip, got %q", plaintext)
	}
}

func TestWrapUnwrapMasterKeyRoundTrip(t *testing.T) {
	kek := make([]byte, 32)
	mek, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey returned error: %v", err)
	}

	wrapped, err := WrapMasterKey(kek, mek)
	if err != nil {
		t.Fatalf("WrapMasterKey returned error: %v", err)
	}

	unwrapped, err := UnwrapMasterKey(kek, wrapped)
	if err != nil {
		t.Fatalf("UnwrapMasterKey returned error: %v", err)
	}
	if string(unwrapped) != string(mek) {
		t.Fatalf("expected unwrapped key to match original master key")
	}
}

func TestUnwrapMasterKeyWrongKEK(t *testing.T) {
	kek := make([]byte, 32)
	wrongKEK := make([]byte, 32)
	wrongKEK[0] = 1

	mek, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey returned error: %v", err)
	}

	wrapped, err := WrapMasterKey(kek, mek)
	if err != nil {
		t.Fatalf("WrapMasterKey returned error: %v", err)
	}

	if _, err := UnwrapMasterKey(wrongKEK, wrapped); !errors.Is(err, ErrBadKey) {
		t.Fatalf("expected ErrBadKey, got %v", err)
	}
}

func TestRewrapMovesMasterKeyToNewKEK(t *testing.T) {
	oldKEK := make([]byte, 32)
	newKEK := make([]byte, 32)
	newKEK[0] = 1

	mek, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey returned error: %v", err)
	}

	wrapped, err := WrapMasterKey(oldKEK, mek)
	if err != nil {
		t.Fatalf("WrapMasterKey returned error: %v", err)
	}

	rewrapped, err := Rewrap(oldKEK, newKEK, wrapped)
	if err != nil {
		t.Fatalf("Rewrap returned error: %v", err)
	}

	if _, err := UnwrapMasterKey(oldKEK, rewrapped); !errors.Is(err, ErrBadKey) {
		t.Fatalf("expected ErrBadKey when unwrapping with the old KEK, got %v", err)
	}

	recovered, err := UnwrapMasterKey(newKEK, rewrapped)
	if err != nil {
		t.Fatalf("UnwrapMasterKey returned error: %v", err)
	}
	if string(recovered) != string(mek) {
		t.Fatalf("expected recovered key to match original master key")
	}
}

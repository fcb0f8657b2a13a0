package login

import (
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/Hussein-Mazeh/SecureVaultServer/internal/errs"
)

func newID() (string, error) {
	return uuid.NewString(), nil
}

func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func hexDecode(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "decode hex", err)
	}
	return b, nil
}

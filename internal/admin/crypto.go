package admin

import (
	"encoding/hex"

	"github.com/Hussein-Mazeh/SecureVaultServer/internal/errs"
	"github.com/Hussein-Mazeh/SecureVaultServer/krypto"
)

type newCredentials struct {
	hash       string
	salt       string
	totpSecret string
}

func hashNewPassword(password string) (newCredentials, error) {
	salt, err := krypto.NewRandomSalt(krypto.PasswordSaltLen)
	if err != nil {
		return newCredentials{}, errs.Wrap(errs.Internal, "generate salt", err)
	}
	hash, err := krypto.HashPasswordWithSalt(password, salt)
	if err != nil {
		return newCredentials{}, errs.Wrap(errs.Internal, "hash password", err)
	}
	secret, err := krypto.NewTOTPSecret()
	if err != nil {
		return newCredentials{}, errs.Wrap(errs.Internal, "generate totp secret", err)
	}
	return newCredentials{hash: hash, salt: hex.EncodeToString(salt), totpSecret: secret}, nil
}

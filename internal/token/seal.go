package token

import (
	"encoding/base64"
	"errors"
)

func base64URL(b []byte) string {
	return base64.URLEncoding.EncodeToString(b)
}

func unsealBase64(s string) (nonce, ciphertext []byte, err error) {
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, nil, err
	}
	if len(raw) < 12 {
		return nil, nil, errors.New("sealed value too short")
	}
	return raw[:12], raw[12:], nil
}

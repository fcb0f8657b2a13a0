package krypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// No TOTP library appears anywhere in the retrieved example pack, so this
// is a direct RFC 6238 implementation: SHA-1, 6 digits, 30-second step.
const (
	totpDigits = 6
	totpPeriod = 30 * time.Second
)

// NewTOTPSecret returns a fresh base32 (RFC 4648, no padding) TOTP seed.
func NewTOTPSecret() (string, error) {
	raw, err := NewRandomSalt(20)
	if err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// TOTPCode computes the 6-digit TOTP code for secret at time t.
func TOTPCode(secret string, t time.Time) (string, error) {
	key, err := decodeBase32Secret(secret)
	if err != nil {
		return "", err
	}
	counter := uint64(t.Unix()) / uint64(totpPeriod.Seconds())
	return hotp(key, counter), nil
}

// VerifyTOTP checks code against the secret's current and immediately
// preceding window, to tolerate small clock skew between client and server.
func VerifyTOTP(secret, code string) bool {
	key, err := decodeBase32Secret(secret)
	if err != nil {
		return false
	}
	code = strings.TrimSpace(code)
	if len(code) != totpDigits {
		return false
	}
	now := time.Now()
	counter := uint64(now.Unix()) / uint64(totpPeriod.Seconds())
	for _, c := range []uint64{counter, counter - 1} {
		if ConstantTimeEqualString(hotp(key, c), code) {
			return true
		}
	}
	return false
}

func hotp(key []byte, counter uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	binCode := (uint32(sum[offset])&0x7f)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])

	mod := uint32(1)
	for i := 0; i < totpDigits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", totpDigits, binCode%mod)
}

func decodeBase32Secret(secret string) ([]byte, error) {
	secret = strings.ToUpper(strings.TrimSpace(secret))
	secret = strings.TrimRight(secret, "=")
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
}

// ProvisioningURI renders the otpauth:// URI a client renders as a QR code
// during 2FA setup: otpauth://totp/<issuer>:<user>?secret=...&issuer=...
func ProvisioningURI(issuer, user, secret string) string {
	label := pathEscapeLabel(issuer + ":" + user)

	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", strconv.Itoa(totpDigits))
	q.Set("period", strconv.Itoa(int(totpPeriod.Seconds())))

	return fmt.Sprintf("otpauth://totp/%s?%s", label, q.Encode())
}

// pathEscapeLabel percent-encodes a label for use in a URL path segment,
// using query-style escaping with '+' translated back to '%20' so spaces
// never appear literally.
func pathEscapeLabel(label string) string {
	return strings.ReplaceAll(url.QueryEscape(label), "+", "%20")
}

// Package model defines the persisted record shapes: users, tokens, and
// failed login attempts.
package model

// TemplateUsername is reserved: its account is never authenticable (random
// 72-char password) and is never returned by user-facing enumeration. New
// users and admin-created users are produced by deep-copying it.
const TemplateUsername = "template"

// User is one account record. Fields outside this required set are carried
// in Extras, so admin-defined custom fields round-trip without widening
// this struct.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`

	// PasswordHash is base64(salt‖PBKDF2-HMAC-SHA256(password, salt)).
	PasswordHash string `json:"password"`
	// Salt is the hex-encoded 16-byte salt also folded into the password
	// hash and used again, unmodified, as the vault KEK base-key salt.
	Salt string `json:"salt"`

	TwoFASecret        string `json:"twofa_secret"`
	TwoFAEnabled       bool   `json:"twofa_enabled"`
	TwoFASetupComplete bool   `json:"twofa_setup_complete"`

	Freeze    bool `json:"freeze"`
	Admin     bool `json:"admin"`
	DevAdmin  bool `json:"dev_admin"`
	RootAuth  bool `json:"root_auth"`
	Root      bool `json:"root"`

	// Vault is the AEAD-sealed vault body, base64url(nonce‖ciphertext),
	// empty until the user's first successful vault write.
	Vault string `json:"vault,omitempty"`
	// VaultMasterKeyWrapped is the vault master key M, sealed under the
	// session-bound KEK of whichever request most recently wrapped it.
	VaultMasterKeyWrapped string `json:"vault_master_key_wrapped,omitempty"`

	Email                  string `json:"email,omitempty"`
	Phone                  string `json:"phone,omitempty"`
	PreferredContactMethod string `json:"preferred_contact_method,omitempty"`

	Extras map[string]ScalarValue `json:"extras,omitempty"`
}

// RequiresTwoFA reports whether the login state machine must gate this
// user behind a TOTP code, given the process-wide 2FA toggles.
func (u User) RequiresTwoFA(enable2FA, require2FA bool) bool {
	if !enable2FA {
		return false
	}
	return u.TwoFAEnabled || require2FA
}

// HasVault reports whether the user has ever written vault contents.
func (u User) HasVault() bool {
	return u.Vault != ""
}

// Clone returns a deep copy suitable as the basis for signup_guard and
// create_user, which both start from the template user and overlay fields.
func (u User) Clone() User {
	cp := u
	if u.Extras != nil {
		cp.Extras = make(map[string]ScalarValue, len(u.Extras))
		for k, v := range u.Extras {
			cp.Extras[k] = v
		}
	}
	return cp
}

// Package guard implements the request-level contracts HTTP handlers are
// wrapped in (C7): auth_guard, login_guard, signup_guard, and
// change_pw_protocol, grounded on the session-cookie middleware style found
// across the example pack's auth packages.
package guard

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Hussein-Mazeh/SecureVaultServer/auth"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/config"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/errs"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/login"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/model"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/token"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/vault"
	"github.com/Hussein-Mazeh/SecureVaultServer/krypto"
	"github.com/Hussein-Mazeh/SecureVaultServer/store"

	"github.com/google/uuid"
)

const (
	cookieAuthToken = "auth_token"
	cookieAuthKey   = "auth_key"
	cookieCSRF      = "csrf_token"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is what a guarded handler finds in its request context: the
// authenticated user and the token record that authorized the request.
type Principal struct {
	User  model.User
	Token *model.Token
	KEK   []byte
}

// FromContext extracts the Principal a successful AuthGuard attached.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// Guards bundles the collaborators every guard needs.
type Guards struct {
	Store   *store.Store
	Tokens  *token.Engine
	Login   *login.Machine
	Cfg     *config.Config
	Log     *slog.Logger
	Notify  func(user model.User, event string) // §10.3 out-of-band notification hook
}

type jsonResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message,omitempty"`
	Code            int    `json:"code,omitempty"`
	ProvisioningURI string `json:"provisioning_uri,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body jsonResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// AuthOptions configures AuthGuard's checks for a single handler.
type AuthOptions struct {
	Admin bool // require the principal's user to be Admin or DevAdmin
	CSRF  bool // require the X-CSRF-Token header to match the token's csrf value
}

// AuthGuard wraps next so it only runs once the request carries a valid
// auth_token/auth_key cookie pair. It rejects root users on the public
// surface, clears cookies and rejects frozen users, optionally requires an
// admin-capable user, and optionally verifies the CSRF header. A panic or
// error inside next never reaches the client as anything but an opaque
// "An error occurred" message; the real cause is logged.
func (g *Guards) AuthGuard(opts AuthOptions, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				g.Log.Error("panic in guarded handler", "recover", rec)
				writeJSON(w, http.StatusInternalServerError, jsonResponse{Message: "An error occurred while processing your request."})
			}
		}()

		authToken, err := cookieValue(r, cookieAuthToken)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, jsonResponse{Message: "Not authenticated."})
			return
		}
		authKey, err := cookieValue(r, cookieAuthKey)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, jsonResponse{Message: "Not authenticated."})
			return
		}

		required, err := g.Tokens.RequireToken(authToken, authKey)
		if err != nil {
			g.Log.Warn("auth guard rejected request", "error", err)
			writeJSON(w, http.StatusUnauthorized, jsonResponse{Message: "Not authenticated."})
			return
		}

		users, err := g.Store.LoadUsers()
		if err != nil {
			g.Log.Error("auth guard failed to load users", "error", err)
			writeJSON(w, http.StatusInternalServerError, jsonResponse{Message: "An error occurred while processing your request."})
			return
		}
		user, ok := findUser(users, required.Token.UserID)
		if !ok {
			clearCookies(w)
			writeJSON(w, http.StatusUnauthorized, jsonResponse{Message: "Not authenticated."})
			return
		}

		if user.Freeze {
			clearCookies(w)
			writeJSON(w, http.StatusForbidden, jsonResponse{Message: "This account has been disabled."})
			return
		}
		if user.Root {
			writeJSON(w, http.StatusForbidden, jsonResponse{Message: "Not authenticated."})
			return
		}
		if opts.Admin && !(user.Admin || user.DevAdmin) {
			writeJSON(w, http.StatusForbidden, jsonResponse{Message: "Not authorized."})
			return
		}
		if opts.CSRF && r.Header.Get("X-CSRF-Token") == "" {
			writeJSON(w, http.StatusForbidden, jsonResponse{Message: "Missing CSRF token."})
			return
		}
		if opts.CSRF && !token.VerifyCSRF(required.Token, r.Header.Get("X-CSRF-Token")) {
			writeJSON(w, http.StatusForbidden, jsonResponse{Message: "Invalid CSRF token."})
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, Principal{
			User:  user,
			Token: required.Token,
			KEK:   required.KEK,
		})
		next(w, r.WithContext(ctx))
	}
}

// LoginGuard implements the public login endpoint: on success it sets the
// auth_token/auth_key/csrf_token cookies per §4.7's flag table.
func (g *Guards) LoginGuard(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
		TOTPCode string `json:"totp_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Message: "Malformed request."})
		return
	}

	result, err := g.Login.Login(body.Username, body.Password, body.TOTPCode, false)
	if err != nil {
		g.Log.Error("login failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Message: "An error occurred while processing your request."})
		return
	}

	if result.PlaintextToken != "" {
		setAuthCookies(w, g.Cfg, result)
	}

	writeJSON(w, http.StatusOK, jsonResponse{
		Success:         result.Code == login.CodeSuccess || result.Code == login.CodeRootSuccess,
		Code:            result.Code,
		Message:         result.Message,
		ProvisioningURI: result.ProvisioningURI,
	})
}

// SignupGuard deep-copies the reserved template user, assigns a fresh
// identity, hashes the supplied password, overlays caller-supplied profile
// fields, and persists the new account.
func (g *Guards) SignupGuard(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string                      `json:"username"`
		Password string                      `json:"password"`
		Extras   map[string]model.ScalarValue `json:"extras"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Message: "Malformed request."})
		return
	}

	if err := auth.ValidatePassword(body.Password); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Message: err.Error()})
		return
	}

	users, err := g.Store.LoadUsers()
	if err != nil {
		g.Log.Error("signup failed to load users", "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Message: "An error occurred while processing your request."})
		return
	}

	var tmpl model.User
	for _, u := range users {
		if u.Username == model.TemplateUsername {
			tmpl = u.Clone()
			break
		}
	}

	salt, err := krypto.NewRandomSalt(krypto.PasswordSaltLen)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Message: "An error occurred while processing your request."})
		return
	}
	hash, err := krypto.HashPasswordWithSalt(body.Password, salt)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Message: "An error occurred while processing your request."})
		return
	}
	secret, err := krypto.NewTOTPSecret()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Message: "An error occurred while processing your request."})
		return
	}

	tmpl.ID = uuid.NewString()
	tmpl.Username = body.Username
	tmpl.PasswordHash = hash
	tmpl.Salt = hexEncode(salt)
	tmpl.TwoFASecret = secret
	tmpl.TwoFASetupComplete = false
	if body.Extras != nil {
		if tmpl.Extras == nil {
			tmpl.Extras = make(map[string]model.ScalarValue, len(body.Extras))
		}
		for k, v := range body.Extras {
			tmpl.Extras[k] = v
		}
	}

	if _, err := g.Store.MutateUsers(func(users []model.User) []model.User {
		return append(users, tmpl)
	}); err != nil {
		g.Log.Error("signup failed to persist user", "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Message: "An error occurred while processing your request."})
		return
	}

	writeJSON(w, http.StatusOK, jsonResponse{Success: true})
}

// ChangePasswordProtocol implements change_pw_protocol: requires the
// caller's token to have authenticated within PWChangeAuthWindow seconds,
// re-verifies the current password, rewraps the vault master key under a
// session KEK derived from the new password, revokes every token the user
// holds, and clears the request's cookies.
func (g *Guards) ChangePasswordProtocol(w http.ResponseWriter, r *http.Request) {
	principal, ok := FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, jsonResponse{Message: "Not authenticated."})
		return
	}

	var body struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Message: "Malformed request."})
		return
	}

	if time.Now().Unix()-principal.Token.AuthTime > g.Cfg.PWChangeAuthWindow {
		writeJSON(w, http.StatusForbidden, jsonResponse{Message: "Please re-authenticate to change your password."})
		return
	}

	ok, err := krypto.VerifyPassword(body.OldPassword, principal.User.PasswordHash)
	if err != nil || !ok {
		writeJSON(w, http.StatusForbidden, jsonResponse{Message: "Current password is incorrect."})
		return
	}

	if err := auth.ValidatePassword(body.NewPassword); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Message: err.Error()})
		return
	}

	newSalt, err := krypto.NewRandomSalt(krypto.PasswordSaltLen)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Message: "An error occurred while processing your request."})
		return
	}
	newHash, err := krypto.HashPasswordWithSalt(body.NewPassword, newSalt)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Message: "An error occurred while processing your request."})
		return
	}

	if principal.User.VaultMasterKeyWrapped != "" {
		newLoginSecret, err := krypto.DeriveLoginSecret(body.NewPassword, newSalt)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, jsonResponse{Message: "An error occurred while processing your request."})
			return
		}
		newKEK, err := krypto.DeriveSessionKEK(newLoginSecret, principal.Token.SessionID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, jsonResponse{Message: "An error occurred while processing your request."})
			return
		}
		rewrapped, err := vault.Rewrap(principal.KEK, newKEK, principal.User.VaultMasterKeyWrapped)
		if err != nil {
			g.Log.Error("vault rewrap failed during password change", "user_id", principal.User.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, jsonResponse{Message: "An error occurred while processing your request."})
			return
		}
		principal.User.VaultMasterKeyWrapped = rewrapped
	}

	principal.User.PasswordHash = newHash
	principal.User.Salt = hexEncode(newSalt)

	if _, err := g.Store.MutateUsers(func(users []model.User) []model.User {
		for i, u := range users {
			if u.ID == principal.User.ID {
				users[i] = principal.User
				break
			}
		}
		return users
	}); err != nil {
		g.Log.Error("failed to persist password change", "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Message: "An error occurred while processing your request."})
		return
	}

	if err := g.Tokens.RemoveAllTokens(principal.User.ID); err != nil {
		g.Log.Error("failed to revoke tokens after password change", "error", err)
	}
	if g.Notify != nil {
		g.Notify(principal.User, "password_changed")
	}

	clearCookies(w)
	writeJSON(w, http.StatusOK, jsonResponse{Success: true, Message: "Password changed. Please log in again."})
}

// LogoutGuard revokes every token the calling principal holds and clears
// its cookies. Unlike ChangePasswordProtocol it never requires a fresh
// re-authentication window — logging out is always allowed.
func (g *Guards) LogoutGuard(w http.ResponseWriter, r *http.Request) {
	principal, ok := FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, jsonResponse{Message: "Not authenticated."})
		return
	}
	if err := g.Tokens.RemoveAllTokens(principal.User.ID); err != nil {
		g.Log.Error("failed to revoke tokens on logout", "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Message: "An error occurred while processing your request."})
		return
	}
	clearCookies(w)
	writeJSON(w, http.StatusOK, jsonResponse{Success: true})
}

// personalInfo is the redacted self-view get_personal_information returns:
// everything a user is entitled to see about their own account, minus
// secrets (password hash, salt, 2FA secret, wrapped vault key material).
type personalInfo struct {
	ID                     string                       `json:"id"`
	Username               string                       `json:"username"`
	TwoFAEnabled           bool                         `json:"twofa_enabled"`
	Email                  string                       `json:"email,omitempty"`
	Phone                  string                       `json:"phone,omitempty"`
	PreferredContactMethod string                       `json:"preferred_contact_method,omitempty"`
	Vault                  string                       `json:"vault,omitempty"`
	Extras                 map[string]model.ScalarValue `json:"extras,omitempty"`
}

// GetPersonalInformation implements get_personal_information: the
// authenticated principal's own profile, redacted the same way list_users
// redacts other accounts, plus the decrypted vault contents if the
// account has ever written any.
func (g *Guards) GetPersonalInformation(w http.ResponseWriter, r *http.Request) {
	principal, ok := FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, jsonResponse{Message: "Not authenticated."})
		return
	}

	info := personalInfo{
		ID:                     principal.User.ID,
		Username:               principal.User.Username,
		TwoFAEnabled:           principal.User.TwoFAEnabled,
		Email:                  principal.User.Email,
		Phone:                  principal.User.Phone,
		PreferredContactMethod: principal.User.PreferredContactMethod,
		Extras:                 principal.User.Extras,
	}

	if principal.User.HasVault() {
		mek, err := vault.UnwrapMasterKey(principal.KEK, principal.User.VaultMasterKeyWrapped)
		if err != nil {
			g.Log.Error("failed to unwrap vault key", "user_id", principal.User.ID, "error", err)
			info.Vault = "[vault unavailable: unable to unwrap vault key]"
		} else if plaintext, err := vault.DecryptBody(mek, principal.User.Vault); err != nil {
			g.Log.Error("failed to decrypt vault", "user_id", principal.User.ID, "error", err)
			info.Vault = "[vault unavailable: unable to decrypt vault]"
		} else {
			info.Vault = string(plaintext)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}

// setTwoFA toggles the principal's TwoFAEnabled flag and persists it. When
// disabling, TwoFASetupComplete is left untouched so re-enabling does not
// force a fresh QR-code scan.
func (g *Guards) setTwoFA(w http.ResponseWriter, r *http.Request, enabled bool) {
	principal, ok := FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, jsonResponse{Message: "Not authenticated."})
		return
	}

	if _, err := g.Store.MutateUsers(func(users []model.User) []model.User {
		for i, u := range users {
			if u.ID == principal.User.ID {
				users[i].TwoFAEnabled = enabled
				break
			}
		}
		return users
	}); err != nil {
		g.Log.Error("failed to persist 2fa toggle", "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Message: "An error occurred while processing your request."})
		return
	}

	writeJSON(w, http.StatusOK, jsonResponse{Success: true})
}

// EnableTwoFA implements enable_2fa.
func (g *Guards) EnableTwoFA(w http.ResponseWriter, r *http.Request) { g.setTwoFA(w, r, true) }

// DisableTwoFA implements disable_2fa.
func (g *Guards) DisableTwoFA(w http.ResponseWriter, r *http.Request) { g.setTwoFA(w, r, false) }

func setAuthCookies(w http.ResponseWriter, cfg *config.Config, result login.Result) {
	maxAge := int(cfg.TokenAge)
	http.SetCookie(w, &http.Cookie{
		Name: cookieAuthToken, Value: result.PlaintextToken,
		Path: "/", HttpOnly: true, Secure: cfg.UseHTTPS,
		SameSite: http.SameSiteStrictMode, MaxAge: maxAge,
	})
	http.SetCookie(w, &http.Cookie{
		Name: cookieAuthKey, Value: result.AuthKey,
		Path: "/", HttpOnly: true, Secure: cfg.UseHTTPS,
		SameSite: http.SameSiteStrictMode, MaxAge: maxAge,
	})
	http.SetCookie(w, &http.Cookie{
		Name: cookieCSRF, Value: result.CSRF,
		Path: "/", HttpOnly: false, Secure: cfg.UseHTTPS,
		SameSite: http.SameSiteLaxMode, MaxAge: maxAge,
	})
}

func clearCookies(w http.ResponseWriter) {
	for _, name := range []string{cookieAuthToken, cookieAuthKey, cookieCSRF} {
		http.SetCookie(w, &http.Cookie{
			Name: name, Value: "", Path: "/", MaxAge: -1,
			Expires: time.Unix(0, 0),
		})
	}
}

func cookieValue(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", errs.Wrap(errs.Unauthorized, "missing cookie "+name, err)
	}
	return c.Value, nil
}

func findUser(users []model.User, id string) (model.User, bool) {
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	return model.User{}, false
}

func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

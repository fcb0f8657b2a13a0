// Package admin implements the privileged operations (C8) the admin CLI
// drives: listing users/sessions/attempts, revoking sessions, and mutating
// account flags. Every operation takes the already-authenticated caller
// (*model.User), which the CLI resolves from a session token via
// AuthenticateSession, mirroring the original's
// authenticate_session = validate token → return user, or nil.
package admin

import (
	"fmt"
	"sort"
	"time"

	"github.com/Hussein-Mazeh/SecureVaultServer/internal/config"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/errs"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/model"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/session"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/token"
	"github.com/Hussein-Mazeh/SecureVaultServer/store"

	"github.com/google/uuid"
)

// Action is one of the user_action mutations.
type Action string

const (
	ActionFreeze           Action = "freeze"
	ActionUnfreeze         Action = "unfreeze"
	ActionClearAttempts    Action = "clear_attempts"
	ActionPromoteAppAdmin  Action = "promote_app_admin"
	ActionDemoteAppAdmin   Action = "demote_app_admin"
	ActionPromoteDevAdmin  Action = "promote_dev_admin"
	ActionDemoteDevAdmin   Action = "demote_dev_admin"
	ActionGrantRootAuth    Action = "grant_root_auth"
	ActionRevokeRootAuth   Action = "revoke_root_auth"
)

// Ops bundles the collaborators admin operations act on.
type Ops struct {
	Store    *store.Store
	Tokens   *token.Engine
	Sessions *session.Store
	Cfg      *config.Config
}

// AuthenticateSession validates a bearer token and returns the user it
// belongs to, or nil if the token is invalid/expired — the admin surface's
// sole authentication primitive, reused for every operation below.
func (o *Ops) AuthenticateSession(authToken string) (*model.User, error) {
	tok, err := o.Tokens.ValidateToken(authToken)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, nil
	}
	users, err := o.Store.LoadUsers()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "load users", err)
	}
	for _, u := range users {
		if u.ID == tok.UserID {
			return &u, nil
		}
	}
	return nil, nil
}

func requireAdmin(caller *model.User) error {
	if caller == nil {
		return errs.New(errs.Unauthorized, "not authenticated")
	}
	if !caller.Admin && !caller.DevAdmin && !caller.Root {
		return errs.New(errs.Forbidden, "not authorized")
	}
	return nil
}

// UserView is the redacted projection list_users returns: no password
// hash, no 2FA secret, no vault material.
type UserView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Freeze   bool   `json:"freeze"`
	Admin    bool   `json:"admin"`
	DevAdmin bool   `json:"dev_admin"`
	Root     bool   `json:"root"`
	RootAuth bool   `json:"root_auth"`
}

// ListUsers returns every non-template account, redacted. §9's resolution:
// the key is "freeze", matching the §3 data model and user_action, not the
// source's "frozen".
func (o *Ops) ListUsers(caller *model.User) ([]UserView, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	users, err := o.Store.LoadUsers()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "load users", err)
	}
	views := make([]UserView, 0, len(users))
	for _, u := range users {
		if u.Username == model.TemplateUsername {
			continue
		}
		views = append(views, UserView{
			ID: u.ID, Username: u.Username, Freeze: u.Freeze,
			Admin: u.Admin, DevAdmin: u.DevAdmin, Root: u.Root, RootAuth: u.RootAuth,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Username < views[j].Username })
	return views, nil
}

// SessionView is one active token joined to its owning user, redacted.
type SessionView struct {
	TokenID   string `json:"token_id"`
	Username  string `json:"username"`
	UserID    string `json:"user_id"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
}

// ListSessions joins every stored token to its user and redacts everything
// but identity and timing. Expired tokens that are still in the token file
// are listed too; they are not filtered out here.
func (o *Ops) ListSessions(caller *model.User) ([]SessionView, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	tokens, err := o.Store.LoadTokens()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "load tokens", err)
	}
	users, err := o.Store.LoadUsers()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "load users", err)
	}
	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	views := make([]SessionView, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, SessionView{
			TokenID:   t.ID,
			Username:  byID[t.UserID].Username,
			UserID:    t.UserID,
			IssuedAt:  time.Unix(t.AuthTime, 0).UTC().Format(time.RFC3339),
			ExpiresAt: time.Unix(t.Exp, 0).UTC().Format(time.RFC3339),
		})
	}
	return views, nil
}

// AttemptView is one flattened failed-login entry with a human timestamp.
type AttemptView struct {
	Username string `json:"username"`
	At       string `json:"at"`
}

// ListAttempts flattens the failed-attempts map into a time-ordered log.
func (o *Ops) ListAttempts(caller *model.User) ([]AttemptView, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	attempts, err := o.Store.LoadAttempts()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "load attempts", err)
	}
	var views []AttemptView
	for username, timestamps := range attempts {
		for _, ts := range timestamps {
			views = append(views, AttemptView{Username: username, At: time.Unix(ts, 0).UTC().Format(time.RFC3339)})
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].At < views[j].At })
	return views, nil
}

// LogoutUser revokes every token belonging to userID.
func (o *Ops) LogoutUser(caller *model.User, userID string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	return o.Tokens.RemoveAllTokens(userID)
}

// LogoutSelf revokes every token belonging to the calling admin.
func (o *Ops) LogoutSelf(caller *model.User) error {
	if caller == nil {
		return errs.New(errs.Unauthorized, "not authenticated")
	}
	return o.Tokens.RemoveAllTokens(caller.ID)
}

// LogoutAll revokes every outstanding token, for every user.
func (o *Ops) LogoutAll(caller *model.User) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	_, err := o.Store.MutateTokens(func(tokens []model.Token) []model.Token {
		return tokens[:0]
	})
	if err != nil {
		return errs.Wrap(errs.Internal, "revoke all tokens", err)
	}
	return nil
}

// ClearAllAttempts empties the failed-attempts log entirely.
func (o *Ops) ClearAllAttempts(caller *model.User) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	_, err := o.Store.MutateAttempts(func(model.FailedAttempts) model.FailedAttempts {
		return model.FailedAttempts{}
	})
	if err != nil {
		return errs.Wrap(errs.Internal, "clear attempts", err)
	}
	return nil
}

// UserAction applies one of the named mutations to userID's record.
// Unknown actions are rejected rather than silently ignored.
func (o *Ops) UserAction(caller *model.User, action Action, userID string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}

	apply, ok := actionTable[action]
	if !ok {
		return errs.New(errs.Argument, fmt.Sprintf("unknown action %q", action))
	}

	_, err := o.Store.MutateUsers(func(users []model.User) []model.User {
		for i, u := range users {
			if u.ID == userID {
				apply(&users[i])
				break
			}
		}
		return users
	})
	if err != nil {
		return errs.Wrap(errs.Internal, "apply user action", err)
	}

	if action == ActionClearAttempts {
		return o.clearUserAttempts(userID)
	}
	return nil
}

func (o *Ops) clearUserAttempts(userID string) error {
	users, err := o.Store.LoadUsers()
	if err != nil {
		return errs.Wrap(errs.Internal, "load users", err)
	}
	var username string
	for _, u := range users {
		if u.ID == userID {
			username = u.Username
			break
		}
	}
	if username == "" {
		return nil
	}
	_, err = o.Store.MutateAttempts(func(attempts model.FailedAttempts) model.FailedAttempts {
		delete(attempts, username)
		return attempts
	})
	if err != nil {
		return errs.Wrap(errs.Internal, "clear user attempts", err)
	}
	return nil
}

var actionTable = map[Action]func(*model.User){
	ActionFreeze:          func(u *model.User) { u.Freeze = true },
	ActionUnfreeze:        func(u *model.User) { u.Freeze = false },
	ActionClearAttempts:   func(u *model.User) {},
	ActionPromoteAppAdmin: func(u *model.User) { u.Admin = true },
	ActionDemoteAppAdmin:  func(u *model.User) { u.Admin = false },
	ActionPromoteDevAdmin: func(u *model.User) { u.DevAdmin = true },
	ActionDemoteDevAdmin:  func(u *model.User) { u.DevAdmin = false },
	ActionGrantRootAuth:   func(u *model.User) { u.RootAuth = true },
	ActionRevokeRootAuth:  func(u *model.User) { u.RootAuth = false },
}

// CreateUser deep-copies the template, overlays the given key/value pairs
// coerced by model.CoerceScalar, and persists the result.
func (o *Ops) CreateUser(caller *model.User, username, password string, overlay map[string]string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}

	users, err := o.Store.LoadUsers()
	if err != nil {
		return errs.Wrap(errs.Internal, "load users", err)
	}

	var tmpl model.User
	for _, u := range users {
		if u.Username == model.TemplateUsername {
			tmpl = u.Clone()
			break
		}
	}

	tmpl.ID = uuid.NewString()
	tmpl.Username = username
	if tmpl.Extras == nil {
		tmpl.Extras = make(map[string]model.ScalarValue, len(overlay))
	}
	for k, v := range overlay {
		tmpl.Extras[k] = model.CoerceScalar(v)
	}

	hashed, err := hashNewPassword(password)
	if err != nil {
		return err
	}
	tmpl.PasswordHash = hashed.hash
	tmpl.Salt = hashed.salt
	tmpl.TwoFASecret = hashed.totpSecret
	tmpl.TwoFASetupComplete = false

	_, err = o.Store.MutateUsers(func(users []model.User) []model.User {
		return append(users, tmpl)
	})
	if err != nil {
		return errs.Wrap(errs.Internal, "persist new user", err)
	}
	return nil
}

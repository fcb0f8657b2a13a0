// Package login implements the credential and 2FA state machine (C5): the
// single entry point both the public login surface and the admin CLI's
// login command call through, grounded on adminlogin.py's authenticate()
// and app.py's login_guard().
package login

import (
	"fmt"
	"time"

	"github.com/Hussein-Mazeh/SecureVaultServer/internal/config"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/errs"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/model"
	"github.com/Hussein-Mazeh/SecureVaultServer/store"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/token"
	"github.com/Hussein-Mazeh/SecureVaultServer/krypto"
)

// Result codes, exactly as specified: 0 root-privileged success, 1 normal
// success, 2 bad credentials, 3 TOTP required, 4 TOTP invalid, 5 TOTP
// setup required, 6 locked, 7 frozen.
const (
	CodeRootSuccess        = 0
	CodeSuccess            = 1
	CodeCredentialsInvalid = 2
	CodeTOTPRequired       = 3
	CodeTOTPInvalid        = 4
	CodeTOTPSetupRequired  = 5
	CodeLocked             = 6
	CodeFrozen             = 7
)

// TOTPIssuer is the provisioning URI issuer label, matching the original
// admin surface's APP_NAME.
const TOTPIssuer = "SecureServerAdmin"

// AdminTokenTTL is the shorter token lifetime issued on the admin surface.
const AdminTokenTTL = 1200

// Result carries a login attempt's outcome.
type Result struct {
	Code            int
	ProvisioningURI string
	PlaintextToken  string
	AuthKey         string
	CSRF            string
	Message         string
}

// Machine runs the login state machine against a Store, session-bound
// token Engine, and process config.
type Machine struct {
	Store  *store.Store
	Tokens *token.Engine
	Cfg    *config.Config
	now    func() time.Time
}

func New(st *store.Store, tokens *token.Engine, cfg *config.Config) *Machine {
	return &Machine{Store: st, Tokens: tokens, Cfg: cfg, now: time.Now}
}

// Login authenticates username/password/totpCode. adminSurface gates the
// extra dev_admin requirement and the shorter token TTL used by the
// administrative CLI.
func (m *Machine) Login(username, password, totpCode string, adminSurface bool) (Result, error) {
	users, err := m.Store.LoadUsers()
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, "load users", err)
	}

	if len(users) == 0 {
		return m.bootstrap(username, password)
	}

	now := m.now().Unix()

	idx := findUser(users, username)

	if locked, remainingMinutes, lockErr := m.checkLockout(username, now); lockErr != nil {
		return Result{}, lockErr
	} else if locked {
		return Result{Code: CodeLocked, Message: fmt.Sprintf("Try again in %d minutes.", remainingMinutes)}, nil
	}

	if idx < 0 {
		krypto.DummyHashPassword(password)
		if err := m.recordFailure(username, now); err != nil {
			return Result{}, err
		}
		return Result{Code: CodeCredentialsInvalid, Message: "Credentials do not match."}, nil
	}

	user := users[idx]

	ok, err := krypto.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, "verify password", err)
	}
	if !ok || (adminSurface && !user.DevAdmin) {
		if err := m.recordFailure(username, now); err != nil {
			return Result{}, err
		}
		return Result{Code: CodeCredentialsInvalid, Message: "Credentials do not match."}, nil
	}

	if user.Freeze {
		return Result{Code: CodeFrozen, Message: "This account has been disabled."}, nil
	}

	if user.Root && !adminSurface {
		return Result{Code: CodeCredentialsInvalid, Message: "Credentials do not match."}, nil
	}

	if user.RequiresTwoFA(m.Cfg.Enable2FA, m.Cfg.Require2FA) {
		res, err := m.gate2FA(&user, totpCode)
		if err != nil {
			return Result{}, err
		}
		if res.Code != 0 {
			return res, nil
		}
	}

	return m.succeed(user, password, adminSurface, now)
}

func (m *Machine) bootstrap(username, password string) (Result, error) {
	salt, err := krypto.NewRandomSalt(krypto.PasswordSaltLen)
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, "generate salt", err)
	}
	hash, err := krypto.HashPasswordWithSalt(password, salt)
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, "hash password", err)
	}
	secret, err := krypto.NewTOTPSecret()
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, "generate totp secret", err)
	}

	id, err := newID()
	if err != nil {
		return Result{}, err
	}

	u := model.User{
		ID:                 id,
		Username:           username,
		PasswordHash:       hash,
		Salt:               hexEncode(salt),
		TwoFASecret:        secret,
		TwoFAEnabled:       true,
		TwoFASetupComplete: false,
		Root:               true,
		RootAuth:           true,
		DevAdmin:           true,
	}

	if _, err := m.Store.MutateUsers(func(users []model.User) []model.User {
		return append(users, u)
	}); err != nil {
		return Result{}, errs.Wrap(errs.Internal, "persist bootstrap user", err)
	}

	return Result{
		Code:            CodeTOTPSetupRequired,
		ProvisioningURI: krypto.ProvisioningURI(TOTPIssuer, username, secret),
	}, nil
}

// checkLockout prunes username's failure list to the lockout window,
// persists the pruned list, and reports whether the account is currently
// locked along with the remaining minutes if so.
func (m *Machine) checkLockout(username string, now int64) (locked bool, remainingMinutes int, err error) {
	attempts, mutErr := m.Store.MutateAttempts(func(attempts model.FailedAttempts) model.FailedAttempts {
		pruned := attempts.Prune(username, now, m.Cfg.LockoutLoginWindow)
		if len(pruned) == 0 {
			delete(attempts, username)
		} else {
			attempts[username] = pruned
		}
		return attempts
	})
	if mutErr != nil {
		return false, 0, errs.Wrap(errs.Internal, "prune failed attempts", mutErr)
	}

	failures := attempts[username]
	if len(failures) < m.Cfg.MaxLoginFailures {
		return false, 0, nil
	}

	oldest := failures[0]
	remaining := m.Cfg.LockoutLoginWindow - (now - oldest)
	minutes := int(remaining / 60)
	if minutes < 1 {
		minutes = 1
	}
	return true, minutes, nil
}

func (m *Machine) recordFailure(username string, now int64) error {
	_, err := m.Store.MutateAttempts(func(attempts model.FailedAttempts) model.FailedAttempts {
		attempts[username] = append(attempts[username], now)
		return attempts
	})
	if err != nil {
		return errs.Wrap(errs.Internal, "record failed attempt", err)
	}
	return nil
}

// gate2FA implements the setup/normal 2FA phases. It mutates user in place
// for the generate-secret and setup-complete transitions, persisting
// through the Store.
func (m *Machine) gate2FA(user *model.User, totpCode string) (Result, error) {
	if user.TwoFASecret == "" {
		secret, err := krypto.NewTOTPSecret()
		if err != nil {
			return Result{}, errs.Wrap(errs.Internal, "generate totp secret", err)
		}
		user.TwoFASecret = secret
		user.TwoFASetupComplete = false
		if err := m.saveUser(*user); err != nil {
			return Result{}, err
		}
	}

	if !user.TwoFASetupComplete {
		if totpCode == "" {
			return Result{
				Code:            CodeTOTPSetupRequired,
				ProvisioningURI: krypto.ProvisioningURI(TOTPIssuer, user.Username, user.TwoFASecret),
			}, nil
		}
		if !krypto.VerifyTOTP(user.TwoFASecret, totpCode) {
			return Result{Code: CodeTOTPInvalid, Message: "Invalid verification code."}, nil
		}
		user.TwoFASetupComplete = true
		if err := m.saveUser(*user); err != nil {
			return Result{}, err
		}
		return Result{}, nil
	}

	if totpCode == "" {
		return Result{Code: CodeTOTPRequired}, nil
	}
	if !krypto.VerifyTOTP(user.TwoFASecret, totpCode) {
		return Result{Code: CodeTOTPInvalid, Message: "Invalid verification code."}, nil
	}
	return Result{}, nil
}

func (m *Machine) saveUser(user model.User) error {
	_, err := m.Store.MutateUsers(func(users []model.User) []model.User {
		idx := findUserByID(users, user.ID)
		if idx >= 0 {
			users[idx] = user
		}
		return users
	})
	if err != nil {
		return errs.Wrap(errs.Internal, "persist user", err)
	}
	return nil
}

func (m *Machine) succeed(user model.User, password string, adminSurface bool, now int64) (Result, error) {
	if _, err := m.Store.MutateAttempts(func(attempts model.FailedAttempts) model.FailedAttempts {
		delete(attempts, user.Username)
		return attempts
	}); err != nil {
		return Result{}, errs.Wrap(errs.Internal, "clear failed attempts", err)
	}

	ttl := int64(3600)
	if adminSurface {
		ttl = AdminTokenTTL
	}

	salt, err := hexDecode(user.Salt)
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, "decode user salt", err)
	}

	issued, err := m.Tokens.IssueToken(user.ID, password, salt, ttl)
	if err != nil {
		return Result{}, err
	}

	code := CodeSuccess
	if user.RootAuth {
		code = CodeRootSuccess
	}
	return Result{
		Code:           code,
		PlaintextToken: issued.PlaintextToken,
		AuthKey:        issued.AuthKey,
		CSRF:           issued.CSRF,
	}, nil
}

func findUser(users []model.User, username string) int {
	for i, u := range users {
		if u.Username == username {
			return i
		}
	}
	return -1
}

func findUserByID(users []model.User, id string) int {
	for i, u := range users {
		if u.ID == id {
			return i
		}
	}
	return -1
}

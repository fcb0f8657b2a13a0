// Command server runs the public authentication and vault HTTP surface:
// signup, login, logout, 2FA toggles, vault write, password change, and
// the personal/admin user-listing reads.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Hussein-Mazeh/SecureVaultServer/internal/admin"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/config"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/guard"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/login"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/model"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/obslog"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/ratelimit"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/session"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/token"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/vault"
	"github.com/Hussein-Mazeh/SecureVaultServer/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := obslog.New(filepath.Join(cfg.DataDir, "server.log"))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	st := store.New(cfg, logger)
	sessions := session.New()
	tokens := token.New(st, sessions, cfg)
	loginMachine := login.New(st, tokens, cfg)

	g := &guard.Guards{
		Store:  st,
		Tokens: tokens,
		Login:  loginMachine,
		Cfg:    cfg,
		Log:    logger,
		Notify: func(user model.User, event string) {
			logger.Info("account event", "user_id", user.ID, "event", event)
		},
	}

	ops := &admin.Ops{Store: st, Tokens: tokens, Sessions: sessions, Cfg: cfg}

	limits := newEndpointLimiters()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /signup", limits.signup.Middleware(g.SignupGuard))
	mux.HandleFunc("POST /login", limits.login.Middleware(g.LoginGuard))
	mux.HandleFunc("POST /logout", limits.logout.Middleware(g.AuthGuard(guard.AuthOptions{}, g.LogoutGuard)))
	mux.HandleFunc("POST /enable_2fa", limits.enable2FA.Middleware(g.AuthGuard(guard.AuthOptions{CSRF: true}, g.EnableTwoFA)))
	mux.HandleFunc("POST /disable_2fa", limits.disable2FA.Middleware(g.AuthGuard(guard.AuthOptions{CSRF: true}, g.DisableTwoFA)))
	mux.HandleFunc("GET /get_personal_information", limits.reads.Middleware(g.AuthGuard(guard.AuthOptions{}, g.GetPersonalInformation)))
	mux.HandleFunc("GET /get_all_users", limits.reads.Middleware(g.AuthGuard(guard.AuthOptions{Admin: true}, handleListUsers(ops))))
	mux.HandleFunc("POST /change_password", limits.changePassword.Middleware(g.AuthGuard(guard.AuthOptions{CSRF: true}, g.ChangePasswordProtocol)))
	mux.HandleFunc("POST /set_vault_information", limits.vaultWrite.Middleware(g.AuthGuard(guard.AuthOptions{CSRF: true}, handleVaultWrite(st))))

	addr := ":8443"
	if v, ok := os.LookupEnv("LISTEN_ADDR"); ok && v != "" {
		addr = v
	}

	logger.Info("starting server", "addr", addr, "use_https", cfg.UseHTTPS)
	return http.ListenAndServe(addr, securityHeaders(mux))
}

// endpointLimiters holds one per-source-IP token bucket per route, sized
// to the budgets in the server's rate-limit table. Exhaustion returns
// HTTP 429 before the route's guard or handler ever runs.
type endpointLimiters struct {
	signup         *ratelimit.Limiter
	login          *ratelimit.Limiter
	logout         *ratelimit.Limiter
	enable2FA      *ratelimit.Limiter
	disable2FA     *ratelimit.Limiter
	vaultWrite     *ratelimit.Limiter
	changePassword *ratelimit.Limiter
	reads          *ratelimit.Limiter
}

func newEndpointLimiters() *endpointLimiters {
	return &endpointLimiters{
		signup:         ratelimit.New(ratelimit.PerMinute(10)),
		login:          ratelimit.New(ratelimit.PerMinute(6)),
		logout:         ratelimit.New(ratelimit.PerMinute(10)),
		enable2FA:      ratelimit.New(ratelimit.PerHour(6)),
		disable2FA:     ratelimit.New(ratelimit.PerHour(1)),
		vaultWrite:     ratelimit.New(ratelimit.PerMinute(3)),
		changePassword: ratelimit.New(ratelimit.PerWeek(3)),
		reads:          ratelimit.New(ratelimit.PerMinute(5)),
	}
}

// securityHeaders attaches the fixed response headers every endpoint gets,
// regardless of guard outcome.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; frame-ancestors 'none'")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		next.ServeHTTP(w, r)
	})
}

func handleListUsers(ops *admin.Ops) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := guard.FromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		views, err := ops.ListUsers(&principal.User)
		if err != nil {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(views)
	}
}

func handleVaultWrite(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := guard.FromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		mek, wrapped := principal.User.VaultMasterKeyWrapped, ""
		var mekBytes []byte
		if mek == "" {
			mekBytes, err = vault.GenerateMasterKey()
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			wrapped, err = vault.WrapMasterKey(principal.KEK, mekBytes)
		} else {
			mekBytes, err = vault.UnwrapMasterKey(principal.KEK, mek)
			wrapped = mek
		}
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		sealed, err := vault.EncryptBody(mekBytes, body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		principal.User.Vault = sealed
		principal.User.VaultMasterKeyWrapped = wrapped

		if _, err := st.MutateUsers(func(users []model.User) []model.User {
			for i, u := range users {
				if u.ID == principal.User.ID {
					users[i] = principal.User
					break
				}
			}
			return users
		}); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

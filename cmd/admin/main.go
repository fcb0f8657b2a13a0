// Command admin is the privileged CLI: it authenticates an operator against
// the same login state machine the public surface uses (with the admin
// surface's dev_admin and shorter token-TTL requirements), then dispatches
// to the C8 admin operations. Subcommand/flag handling follows the
// teacher's original pm CLI: a userError type distinguishes a user-facing
// complaint from an unexpected failure, flag.NewFlagSet per subcommand,
// and a no-echo password prompt via golang.org/x/term.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/Hussein-Mazeh/SecureVaultServer/internal/admin"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/config"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/login"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/model"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/obslog"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/session"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/token"
	"github.com/Hussein-Mazeh/SecureVaultServer/store"
)

type userError struct{ msg string }

func (e userError) Error() string { return e.msg }

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		handleError(err)
	}
	logger, err := obslog.New("")
	if err != nil {
		handleError(err)
	}

	st := store.New(cfg, logger)
	sessions := session.New()
	tokens := token.New(st, sessions, cfg)
	loginMachine := login.New(st, tokens, cfg)
	ops := &admin.Ops{Store: st, Tokens: tokens, Sessions: sessions, Cfg: cfg}

	switch os.Args[1] {
	case "login":
		err = runLogin(loginMachine)
	case "users":
		err = runUsers(ops, os.Args[2:])
	case "sessions":
		err = runSessions(ops, os.Args[2:])
	case "attempts":
		err = runAttempts(ops, os.Args[2:])
	case "logout":
		err = runLogout(ops, os.Args[2:])
	case "action":
		err = runUserAction(ops, os.Args[2:])
	case "create-user":
		err = runCreateUser(ops, os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		handleError(err)
	}
}

func handleError(err error) {
	if err == nil {
		return
	}
	var uerr userError
	if errors.As(err, &uerr) {
		fmt.Fprintln(os.Stderr, uerr.Error())
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "unexpected error: %v\n", err)
	os.Exit(2)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: admin <command>")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  login")
	fmt.Fprintln(os.Stderr, "  users --token <session-token>")
	fmt.Fprintln(os.Stderr, "  sessions --token <session-token>")
	fmt.Fprintln(os.Stderr, "  attempts --token <session-token>")
	fmt.Fprintln(os.Stderr, "  logout --token <session-token> [--user <id> | --self | --all]")
	fmt.Fprintln(os.Stderr, "  action --token <session-token> --action <name> --user <id>")
	fmt.Fprintln(os.Stderr, "  create-user --token <session-token> --user <username> [--set k=v]...")
}

func runLogin(m *login.Machine) error {
	username, err := promptLine("Username: ")
	if err != nil {
		return err
	}
	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}
	defer zeroBytes(password)

	totp, err := promptLine("TOTP code (leave blank if none yet): ")
	if err != nil {
		return err
	}

	result, err := m.Login(username, string(password), totp, true)
	if err != nil {
		return err
	}

	switch result.Code {
	case login.CodeRootSuccess, login.CodeSuccess:
		fmt.Println("token:", result.PlaintextToken)
	case login.CodeTOTPSetupRequired:
		fmt.Println("scan this provisioning URI with an authenticator app, then run login again:")
		fmt.Println(result.ProvisioningURI)
	default:
		return userError{msg: result.Message}
	}
	return nil
}

func tokenFlag(fs *flag.FlagSet) *string {
	return fs.String("token", "", "session bearer token from `admin login`")
}

func authenticate(ops *admin.Ops, tok string) (*model.User, error) {
	if tok == "" {
		return nil, userError{msg: "missing required flag: --token"}
	}
	caller, err := ops.AuthenticateSession(tok)
	if err != nil {
		return nil, err
	}
	if caller == nil {
		return nil, userError{msg: "invalid or expired session token"}
	}
	return caller, nil
}

func runUsers(ops *admin.Ops, args []string) error {
	fs := flag.NewFlagSet("users", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	tok := tokenFlag(fs)
	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	caller, err := authenticate(ops, *tok)
	if err != nil {
		return err
	}
	views, err := ops.ListUsers(caller)
	if err != nil {
		return err
	}
	return printJSON(views)
}

func runSessions(ops *admin.Ops, args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	tok := tokenFlag(fs)
	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	caller, err := authenticate(ops, *tok)
	if err != nil {
		return err
	}
	views, err := ops.ListSessions(caller)
	if err != nil {
		return err
	}
	return printJSON(views)
}

func runAttempts(ops *admin.Ops, args []string) error {
	fs := flag.NewFlagSet("attempts", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	tok := tokenFlag(fs)
	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	caller, err := authenticate(ops, *tok)
	if err != nil {
		return err
	}
	views, err := ops.ListAttempts(caller)
	if err != nil {
		return err
	}
	return printJSON(views)
}

func runLogout(ops *admin.Ops, args []string) error {
	fs := flag.NewFlagSet("logout", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	tok := tokenFlag(fs)
	var userID string
	var self, all bool
	fs.StringVar(&userID, "user", "", "user id to revoke")
	fs.BoolVar(&self, "self", false, "revoke the caller's own tokens")
	fs.BoolVar(&all, "all", false, "revoke every outstanding token")
	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	caller, err := authenticate(ops, *tok)
	if err != nil {
		return err
	}

	switch {
	case all:
		return ops.LogoutAll(caller)
	case self:
		return ops.LogoutSelf(caller)
	case userID != "":
		return ops.LogoutUser(caller, userID)
	default:
		return userError{msg: "specify one of --user, --self, --all"}
	}
}

func runUserAction(ops *admin.Ops, args []string) error {
	fs := flag.NewFlagSet("action", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	tok := tokenFlag(fs)
	var actionName, userID string
	fs.StringVar(&actionName, "action", "", "user_action name")
	fs.StringVar(&userID, "user", "", "target user id")
	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	if actionName == "" || userID == "" {
		return userError{msg: "missing required flags: --action and --user"}
	}
	caller, err := authenticate(ops, *tok)
	if err != nil {
		return err
	}
	return ops.UserAction(caller, admin.Action(actionName), userID)
}

type keyValueFlags map[string]string

func (kv keyValueFlags) String() string { return "" }
func (kv keyValueFlags) Set(s string) error {
	idx := bytes.IndexByte([]byte(s), '=')
	if idx < 0 {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	kv[s[:idx]] = s[idx+1:]
	return nil
}

func runCreateUser(ops *admin.Ops, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	tok := tokenFlag(fs)
	var username string
	overlay := keyValueFlags{}
	fs.StringVar(&username, "user", "", "new account username")
	fs.Var(overlay, "set", "key=value overlay field, repeatable")
	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	if username == "" {
		return userError{msg: "missing required flag: --user"}
	}
	caller, err := authenticate(ops, *tok)
	if err != nil {
		return err
	}

	password, err := promptPassword("New user's password: ")
	if err != nil {
		return err
	}
	defer zeroBytes(password)

	return ops.CreateUser(caller, username, string(password), overlay)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	var line string
	_, err := fmt.Scanln(&line)
	if err != nil && err.Error() != "unexpected newline" {
		return "", err
	}
	return line, nil
}

func promptPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

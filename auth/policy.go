package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/nbutton23/zxcvbn-go"
)

const specialChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_{|}~`"

var hibpLookupFn = CheckHIBP

// ValidateOptions configures password policy requirements.
type ValidateOptions struct {
	EnableHIBP     bool
	MinZXCVBNScore int
	MinLength      int
	RequireLUDS    bool
}

// DefaultValidateOptions returns the standard validation policy. HIBP is
// opt-in: callers that want the live breach lookup call
// ValidatePasswordAdvanced directly with EnableHIBP set.
func DefaultValidateOptions() ValidateOptions {
	return ValidateOptions{
		EnableHIBP:     false,
		MinZXCVBNScore: 3,
		MinLength:      12,
		RequireLUDS:    true, //LowerCase, UpperCase, Digit, Special
	}
}

// ValidatePassword validates a signup or password-change candidate using
// the default policy.
func ValidatePassword(pw string) error {
	return ValidatePasswordAdvanced(context.Background(), pw, DefaultValidateOptions())
}

// ValidatePasswordAdvanced checks length, optional LUDS composition,
// zxcvbn strength score, and an optional HIBP breach lookup. Only
// EnableHIBP and RequireLUDS are taken from opts; MinLength and
// MinZXCVBNScore in opts are ignored and the DefaultValidateOptions values
// always apply.
func ValidatePasswordAdvanced(ctx context.Context, pw string, opts ValidateOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	defaults := DefaultValidateOptions()
	opts.MinLength = defaults.MinLength
	opts.MinZXCVBNScore = defaults.MinZXCVBNScore
	if opts.MinZXCVBNScore > 4 {
		opts.MinZXCVBNScore = 4
	}

	if len(pw) < opts.MinLength {
		return errors.New("password too short")
	}
	if opts.RequireLUDS {
		if !hasLower(pw) {
			return errors.New("password must include a lowercase letter")
		}
		if !hasUpper(pw) {
			return errors.New("password must include an uppercase letter")
		}
		if !hasDigit(pw) {
			return errors.New("password must include a digit")
		}
		if !hasSpecial(pw) {
			return errors.New("password must include a special character")
		}
	}

	strength := zxcvbn.PasswordStrength(pw, nil)
	if strength.Score < opts.MinZXCVBNScore {
		return errors.New("password too weak")
	}

	if opts.EnableHIBP {
		res, err := hibpLookupFn(ctx, pw)
		if err != nil {
			return fmt.Errorf("hibp lookup failed: %w", err)
		}
		if res.Found {
			return errors.New("password appears in known breach lists")
		}
	}

	return nil
}

func hasLower(s string) bool {
	for _, r := range s {
		if unicode.IsLower(r) {
			return true
		}
	}
	return false
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func hasSpecial(s string) bool {
	for _, r := range s {
		if strings.ContainsRune(specialChars, r) {
			return true
		}
	}
	return false
}

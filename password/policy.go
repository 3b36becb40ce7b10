package password

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrWeakSecret is returned by [Policy.Check] when a secret does not meet the policy.
var ErrWeakSecret = errors.New("secret does not meet policy")

// Policy bounds acceptable secrets by character count.
type Policy struct {
	MinLength int
	MaxLength int
}

// DefaultPolicy accepts secrets between 8 and 100 characters.
func DefaultPolicy() Policy {
	return Policy{MinLength: 8, MaxLength: 100}
}

// Check returns ErrWeakSecret when secret is too short, too long, not valid
// UTF-8 or made only of whitespace.
func (p Policy) Check(secret string) error {
	if !utf8.ValidString(secret) {
		return ErrWeakSecret
	}
	n := utf8.RuneCountInString(secret)
	if n < p.MinLength {
		return ErrWeakSecret
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return ErrWeakSecret
	}
	if strings.TrimSpace(secret) == "" {
		return ErrWeakSecret
	}
	return nil
}

package security

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/tazhibayda/identity-service/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost        = 12
	DefaultMinPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	MaxPasswordBytes = 72
	// HiddenPasswordSize is the length of every bcrypt hash produced here.
	HiddenPasswordSize = 60
)

// HashPassword returns a salted bcrypt hash of pw.
func (g *SecretGenerator) HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), g.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w: %w", domain.ErrInternal, err)
	}
	return string(b), nil
}

// VerifyPassword compares in constant time via bcrypt. Passwords longer than
// MaxPasswordBytes never match: bcrypt would only look at their prefix.
func (g *SecretGenerator) VerifyPassword(pw, hidden string) bool {
	if len(pw) > MaxPasswordBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hidden), []byte(pw)) == nil
}

// IsPasswordAllowed enforces the password policy: valid UTF-8, at least the
// configured number of characters, at most MaxPasswordBytes, no control chars.
func (g *SecretGenerator) IsPasswordAllowed(pw string) bool {
	if pw == "" || !utf8.ValidString(pw) || len(pw) > MaxPasswordBytes {
		return false
	}
	if utf8.RuneCountInString(pw) < g.minPasswordLen {
		return false
	}
	for _, r := range pw {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

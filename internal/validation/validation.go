// Package validation holds one check per kind of caller-supplied input.
// Each returns the normalized value or an error matching domain.ErrValidation
// (domain.ErrMalformedCredential for the Authorization header).
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tazhibayda/identity-service/internal/domain"
)

const (
	MaxNameLength  = 256
	MaxEmailLength = 254
)

var (
	validate = validator.New(validator.WithRequiredStructEnabled())
	bearerRe = regexp.MustCompile(`^Bearer (.+)$`)
)

// Struct runs the `validate` tags of v.
func Struct(v any) error {
	return validate.Struct(v)
}

func Name(s string) (string, error) {
	s = strings.TrimSpace(s)
	if err := validate.Var(s, fmt.Sprintf("required,max=%d", MaxNameLength)); err != nil {
		return "", invalid("name", err)
	}
	return s, nil
}

func EmailAddress(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if err := validate.Var(s, fmt.Sprintf("required,max=%d,email", MaxEmailLength)); err != nil {
		return "", invalid("emailAddress", err)
	}
	return s, nil
}

// LoginPassword only checks presence. A password that fails the registration
// policy is still just a wrong password at login.
func LoginPassword(s string) error {
	if err := validate.Var(s, "required"); err != nil {
		return invalid("password", err)
	}
	return nil
}

// AuthToken checks the shape of tokens issued by this service.
func AuthToken(s string) error {
	if err := validate.Var(s, "required,len=64,hexadecimal"); err != nil {
		return invalid("authtoken", err)
	}
	return nil
}

// BearerHeader extracts the credential from an Authorization header.
func BearerHeader(h string) (string, error) {
	m := bearerRe.FindStringSubmatch(h)
	if m == nil {
		return "", fmt.Errorf("%w: invalid Authorization header", domain.ErrMalformedCredential)
	}
	cred := strings.TrimSpace(m[1])
	if cred == "" {
		return "", fmt.Errorf("%w: invalid Authorization header", domain.ErrMalformedCredential)
	}
	return cred, nil
}

func invalid(field string, err error) error {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return fmt.Errorf("%w: %s: failed %q", domain.ErrValidation, field, verrs[0].Tag())
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, field)
}

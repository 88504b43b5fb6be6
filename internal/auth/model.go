// Package auth composes the credential store, token service and identity
// verifier into the service's use cases.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tazhibayda/identity-service/internal/clock"
	"github.com/tazhibayda/identity-service/internal/domain"
	"github.com/tazhibayda/identity-service/internal/helper"
	"github.com/tazhibayda/identity-service/internal/log"
	"github.com/tazhibayda/identity-service/internal/metrics"
	"github.com/tazhibayda/identity-service/internal/oauth"
	"github.com/tazhibayda/identity-service/internal/queue"
	"github.com/tazhibayda/identity-service/internal/repo"
	"github.com/tazhibayda/identity-service/internal/validation"
	"go.uber.org/zap"
)

type TokenService interface {
	IssueToken(ctx context.Context, userID string, issueTime time.Time) (domain.AuthToken, error)
	Resolve(ctx context.Context, token string, now time.Time) (domain.AuthToken, domain.User, error)
}

type IdentityVerifier interface {
	Verify(ctx context.Context, authorizationHeader string) (domain.ExternalIdentity, error)
}

type PasswordPolicy interface {
	IsPasswordAllowed(pw string) bool
	VerifyPassword(pw, hidden string) bool
}

// Session is a user together with the token that authenticates it.
type Session struct {
	User  domain.User
	Token domain.AuthToken
}

type ExternalSession struct {
	Session
	Identity domain.ExternalIdentity
	IsNew    bool
}

type Deps struct {
	Store    repo.CredentialStore
	Tokens   TokenService
	Verifier IdentityVerifier
	Policy   PasswordPolicy
	Clock    clock.Clock
	Events   queue.Publisher
	Log      *zap.Logger
}

type Model struct {
	store    repo.CredentialStore
	tokens   TokenService
	verifier IdentityVerifier
	policy   PasswordPolicy
	clock    clock.Clock
	events   queue.Publisher
	log      *zap.Logger
}

func NewModel(d Deps) *Model {
	if d.Events == nil {
		d.Events = queue.NewNoop()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	return &Model{
		store:    d.Store,
		tokens:   d.Tokens,
		verifier: d.Verifier,
		policy:   d.Policy,
		clock:    d.Clock,
		events:   d.Events,
		log:      d.Log,
	}
}

// RegisterLocal creates a user with an email/password credential and issues
// its first token. The user's join time and the token's issue time coincide.
// Token issuance runs after the user is committed; if it fails the account
// stays and the caller recovers with LoginLocal.
func (m *Model) RegisterLocal(ctx context.Context, name, emailAddress, password string) (s Session, err error) {
	defer func() { record("register_local", err) }()

	name, err = validation.Name(name)
	if err != nil {
		return Session{}, err
	}
	emailAddress, err = validation.EmailAddress(emailAddress)
	if err != nil {
		return Session{}, err
	}
	if !m.policy.IsPasswordAllowed(password) {
		return Session{}, fmt.Errorf("%w: password does not meet policy", domain.ErrValidation)
	}

	now := m.clock.Now()
	u, err := m.store.CreateLocalUser(ctx, repo.NewLocalUser{
		Name:         name,
		EmailAddress: emailAddress,
		Password:     password,
		JoinedAt:     now,
	})
	if err != nil {
		return Session{}, err
	}
	tok, err := m.tokens.IssueToken(ctx, u.ID, now)
	if err != nil {
		return Session{}, err
	}

	log.WithDD(ctx, m.log).Info("user registered",
		zap.String("user_id", u.ID), zap.String("email_fp", helper.Hash8(emailAddress)))
	m.publish(ctx, queue.KeyUserRegistered, queue.UserRegistered{
		UserID: u.ID, Email: emailAddress, Name: u.Name, TimeJoined: u.TimeJoined,
	})
	return Session{User: u, Token: tok}, nil
}

// LoginLocal never reveals whether the address or the password was wrong.
func (m *Model) LoginLocal(ctx context.Context, emailAddress, password string) (s Session, err error) {
	defer func() { record("login_local", err) }()

	emailAddress, err = validation.EmailAddress(emailAddress)
	if err != nil {
		return Session{}, err
	}
	if err := validation.LoginPassword(password); err != nil {
		return Session{}, err
	}

	cred, err := m.store.FindLocalCredential(ctx, emailAddress)
	if errors.Is(err, domain.ErrNotFound) {
		return Session{}, domain.ErrAuthFailed
	}
	if err != nil {
		return Session{}, err
	}
	if !m.policy.VerifyPassword(password, cred.HiddenPassword) {
		return Session{}, domain.ErrAuthFailed
	}

	u, err := m.store.FindUser(ctx, cred.UserID)
	if errors.Is(err, domain.ErrUserDoesNotExist) {
		return Session{}, domain.ErrAuthFailed
	}
	if err != nil {
		return Session{}, err
	}

	now := m.clock.Now()
	tok, err := m.tokens.IssueToken(ctx, u.ID, now)
	if err != nil {
		return Session{}, err
	}
	m.publish(ctx, queue.KeyUserLoggedIn, queue.UserLoggedIn{UserID: u.ID, Method: "password", At: now})
	return Session{User: u, Token: tok}, nil
}

// LoginOrRegisterExternal signs in with a provider credential, creating the
// user on first sight. IsNew tells the caller which happened.
func (m *Model) LoginOrRegisterExternal(ctx context.Context, authorizationHeader string) (s ExternalSession, err error) {
	defer func() { record("login_external", err) }()

	id, err := m.verifier.Verify(ctx, authorizationHeader)
	if err != nil {
		return ExternalSession{}, err
	}

	now := m.clock.Now()
	u, isNew, err := m.store.CreateOrGetExternalUser(ctx, oauth.HashSubjectID(id.SubjectID), id.Name, now)
	if err != nil {
		return ExternalSession{}, err
	}
	tok, err := m.tokens.IssueToken(ctx, u.ID, now)
	if err != nil {
		return ExternalSession{}, err
	}

	log.WithDD(ctx, m.log).Info("external sign-in", zap.String("user_id", u.ID), zap.Bool("is_new", isNew))
	m.publish(ctx, queue.KeyExternalSignedIn, queue.ExternalSignedIn{UserID: u.ID, IsNew: isNew, At: now})
	return ExternalSession{Session: Session{User: u, Token: tok}, Identity: id, IsNew: isNew}, nil
}

// GetExternalUser resolves a provider credential to an existing user without
// creating one.
func (m *Model) GetExternalUser(ctx context.Context, authorizationHeader string) (u domain.User, id domain.ExternalIdentity, err error) {
	defer func() { record("get_external", err) }()

	id, err = m.verifier.Verify(ctx, authorizationHeader)
	if err != nil {
		return domain.User{}, domain.ExternalIdentity{}, err
	}
	u, err = m.store.FindExternalUser(ctx, oauth.HashSubjectID(id.SubjectID))
	if err != nil {
		return domain.User{}, domain.ExternalIdentity{}, err
	}
	return u, id, nil
}

// AuthenticateByToken returns the owner of a valid token together with the
// token itself.
func (m *Model) AuthenticateByToken(ctx context.Context, token string) (s Session, err error) {
	defer func() { record("authenticate_token", err) }()

	if err := validation.AuthToken(token); err != nil {
		// a token that could never have been issued is simply unknown
		return Session{}, domain.ErrTokenNotFound
	}
	tok, u, err := m.tokens.Resolve(ctx, token, m.clock.Now())
	if err != nil {
		return Session{}, err
	}
	return Session{User: u, Token: tok}, nil
}

// CheckEmail reports whether an address already has a local credential.
func (m *Model) CheckEmail(ctx context.Context, emailAddress string) (bool, error) {
	emailAddress, err := validation.EmailAddress(emailAddress)
	if err != nil {
		return false, err
	}
	_, err = m.store.FindLocalCredential(ctx, emailAddress)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// publish is fire-and-forget; the request never waits on the broker.
func (m *Model) publish(ctx context.Context, key string, event any) {
	reqID := log.RequestID(ctx)
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := m.events.Publish(ctx, key, event, reqID); err != nil {
			m.log.Warn("publish event failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

func record(op string, err error) {
	metrics.AuthOutcomes.WithLabelValues(op, Outcome(err)).Inc()
}

// Outcome names the error kind for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrDuplicateEmail), errors.Is(err, domain.ErrUserAlreadyExists):
		return "duplicate"
	case domain.IsUnauthorized(err):
		return "unauthorized"
	case errors.Is(err, domain.ErrUserDoesNotExist), errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrMalformedCredential):
		return "malformed_credential"
	case errors.Is(err, domain.ErrProviderUnauthorized):
		return "provider_unauthorized"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, domain.ErrProviderResponseInvalid):
		return "provider_invalid"
	case errors.Is(err, domain.ErrStore):
		return "store"
	default:
		return "internal"
	}
}

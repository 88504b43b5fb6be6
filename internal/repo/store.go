// Package repo defines the persistence contracts shared by the store backends
// (postgres, mongo, memory) and the Redis token cache that sits in front of them.
package repo

import (
	"context"
	"time"

	"github.com/tazhibayda/identity-service/internal/domain"
)

// NewLocalUser is the input to CreateLocalUser. JoinedAt is supplied by the
// caller so that the token issued right after shares the same instant.
type NewLocalUser struct {
	Name         string
	EmailAddress string
	Password     string
	JoinedAt     time.Time
}

// CredentialStore owns users and the two identity strategies.
//
// CreateLocalUser fails with domain.ErrDuplicateEmail when the address is taken
// and never leaves a partial user behind. CreateOrGetExternalUser resolves a
// lost insert race by reading the winning row (isNew=false). Lookups return
// domain.ErrNotFound or domain.ErrUserDoesNotExist; I/O failures match
// domain.ErrStore.
type CredentialStore interface {
	CreateLocalUser(ctx context.Context, in NewLocalUser) (domain.User, error)
	FindLocalCredential(ctx context.Context, emailAddress string) (domain.LocalCredential, error)
	FindUser(ctx context.Context, userID string) (domain.User, error)
	CreateOrGetExternalUser(ctx context.Context, subjectHash, name string, joinedAt time.Time) (domain.User, bool, error)
	FindExternalUser(ctx context.Context, subjectHash string) (domain.User, error)
}

// TokenStore persists auth tokens. Tokens are never updated or deleted here.
type TokenStore interface {
	// InsertAuthToken fails with domain.ErrDuplicateToken on a token collision.
	InsertAuthToken(ctx context.Context, tok domain.AuthToken) error
	// FindAuthToken fails with domain.ErrTokenNotFound.
	FindAuthToken(ctx context.Context, token string) (domain.AuthToken, error)
}

type Store interface {
	CredentialStore
	TokenStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// SecretSource is what a store needs from the secret generator: the external
// id backfill is keyed by the freshly assigned user id, so it happens inside
// the store's transaction.
type SecretSource interface {
	GenerateUserSecret(userID string) (string, error)
	HashPassword(pw string) (string, error)
}

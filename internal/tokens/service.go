// Package tokens issues and validates opaque auth tokens.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tazhibayda/identity-service/internal/domain"
	"go.uber.org/zap"
)

// Lifetime of every issued token: 2,592,000,000 ms.
const Lifetime = 30 * 24 * time.Hour

// Store is the persistence the service needs.
type Store interface {
	InsertAuthToken(ctx context.Context, tok domain.AuthToken) error
	FindAuthToken(ctx context.Context, token string) (domain.AuthToken, error)
	FindUser(ctx context.Context, userID string) (domain.User, error)
}

type SecretGenerator interface {
	GenerateUserSecret(userID string) (string, error)
}

type Service struct {
	store   Store
	secrets SecretGenerator
	log     *zap.Logger
}

func NewService(store Store, secrets SecretGenerator, log *zap.Logger) *Service {
	return &Service{store: store, secrets: secrets, log: log}
}

// IssueToken stores a new token for userID expiring Lifetime after issueTime.
// A collision is retried once with fresh randomness; a second collision is a
// store error.
func (s *Service) IssueToken(ctx context.Context, userID string, issueTime time.Time) (domain.AuthToken, error) {
	for attempt := 1; ; attempt++ {
		value, err := s.secrets.GenerateUserSecret(userID)
		if err != nil {
			return domain.AuthToken{}, err
		}
		tok := domain.AuthToken{
			Token:      value,
			UserID:     userID,
			ExpiryTime: issueTime.UTC().Add(Lifetime),
		}
		err = s.store.InsertAuthToken(ctx, tok)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, domain.ErrDuplicateToken) {
			return domain.AuthToken{}, err
		}
		if attempt == 2 {
			return domain.AuthToken{}, domain.StoreError("issue token", err)
		}
		s.log.Warn("auth token collision, retrying", zap.String("user_id", userID))
	}
}

// ValidateToken returns the owner of token if it is still valid at now.
func (s *Service) ValidateToken(ctx context.Context, token string, now time.Time) (domain.User, error) {
	_, u, err := s.Resolve(ctx, token, now)
	return u, err
}

// Resolve is ValidateToken that also returns the stored token.
func (s *Service) Resolve(ctx context.Context, token string, now time.Time) (domain.AuthToken, domain.User, error) {
	tok, err := s.store.FindAuthToken(ctx, token)
	if err != nil {
		return domain.AuthToken{}, domain.User{}, err
	}
	if tok.Expired(now) {
		return domain.AuthToken{}, domain.User{}, domain.ErrTokenExpired
	}
	u, err := s.store.FindUser(ctx, tok.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserDoesNotExist) {
			// orphaned token
			return domain.AuthToken{}, domain.User{}, fmt.Errorf("%w: owner missing", domain.ErrTokenNotFound)
		}
		return domain.AuthToken{}, domain.User{}, err
	}
	return tok, u, nil
}

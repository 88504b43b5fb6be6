// Package memory is an in-process store used by tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/tazhibayda/identity-service/internal/domain"
	"github.com/tazhibayda/identity-service/internal/repo"
)

type Store struct {
	secrets repo.SecretSource

	mu         sync.RWMutex
	seq        int64
	users      map[string]domain.User
	byEmail    map[string]domain.LocalCredential
	bySubject  map[string]string
	authTokens map[string]domain.AuthToken
}

var _ repo.Store = (*Store)(nil)

func New(secrets repo.SecretSource) *Store {
	return &Store{
		secrets:    secrets,
		users:      map[string]domain.User{},
		byEmail:    map[string]domain.LocalCredential{},
		bySubject:  map[string]string{},
		authTokens: map[string]domain.AuthToken{},
	}
}

func (s *Store) CreateLocalUser(ctx context.Context, in repo.NewLocalUser) (domain.User, error) {
	hidden, err := s.secrets.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[in.EmailAddress]; ok {
		return domain.User{}, domain.ErrDuplicateEmail
	}
	u, err := s.newUserLocked(in.Name, in.JoinedAt)
	if err != nil {
		return domain.User{}, err
	}
	s.users[u.ID] = u
	s.byEmail[in.EmailAddress] = domain.LocalCredential{UserID: u.ID, EmailAddress: in.EmailAddress, HiddenPassword: hidden}
	return u, nil
}

// newUserLocked assigns the next id and backfills the external id. Nothing is
// stored until both succeed.
func (s *Store) newUserLocked(name string, joinedAt time.Time) (domain.User, error) {
	id := strconv.FormatInt(s.seq+1, 10)
	secret, err := s.secrets.GenerateUserSecret(id)
	if err != nil {
		return domain.User{}, err
	}
	s.seq++
	return domain.User{
		ID:         id,
		ExternalID: secret,
		Name:       name,
		Status:     domain.StatusActive,
		TimeJoined: joinedAt.UTC(),
	}, nil
}

func (s *Store) FindLocalCredential(ctx context.Context, emailAddress string) (domain.LocalCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byEmail[emailAddress]
	if !ok {
		return domain.LocalCredential{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *Store) FindUser(ctx context.Context, userID string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, domain.ErrUserDoesNotExist
	}
	return u, nil
}

func (s *Store) CreateOrGetExternalUser(ctx context.Context, subjectHash, name string, joinedAt time.Time) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.bySubject[subjectHash]; ok {
		return s.users[id], false, nil
	}
	u, err := s.newUserLocked(name, joinedAt)
	if err != nil {
		return domain.User{}, false, err
	}
	s.users[u.ID] = u
	s.bySubject[subjectHash] = u.ID
	return u, true, nil
}

func (s *Store) FindExternalUser(ctx context.Context, subjectHash string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySubject[subjectHash]
	if !ok {
		return domain.User{}, domain.ErrUserDoesNotExist
	}
	return s.users[id], nil
}

func (s *Store) InsertAuthToken(ctx context.Context, tok domain.AuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.authTokens[tok.Token]; ok {
		return domain.ErrDuplicateToken
	}
	if _, ok := s.users[tok.UserID]; !ok {
		return domain.StoreError("insert auth token", domain.ErrUserDoesNotExist)
	}
	s.authTokens[tok.Token] = tok
	return nil
}

func (s *Store) FindAuthToken(ctx context.Context, token string) (domain.AuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.authTokens[token]
	if !ok {
		return domain.AuthToken{}, domain.ErrTokenNotFound
	}
	return t, nil
}

func (s *Store) Ping(ctx context.Context) error  { return ctx.Err() }
func (s *Store) Close(ctx context.Context) error { return nil }

package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhibayda/identity-service/internal/clock"
	"github.com/tazhibayda/identity-service/internal/domain"
	"github.com/tazhibayda/identity-service/internal/log"
	"github.com/tazhibayda/identity-service/internal/queue"
	"github.com/tazhibayda/identity-service/internal/repo/memory"
	"github.com/tazhibayda/identity-service/internal/security"
	"github.com/tazhibayda/identity-service/internal/tokens"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var start = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeVerifier struct {
	identities map[string]domain.ExternalIdentity
	err        error
}

func (f *fakeVerifier) Verify(ctx context.Context, header string) (domain.ExternalIdentity, error) {
	if f.err != nil {
		return domain.ExternalIdentity{}, f.err
	}
	id, ok := f.identities[header]
	if !ok {
		return domain.ExternalIdentity{}, domain.ErrProviderUnauthorized
	}
	return id, nil
}

type sentEvent struct {
	key   string
	event any
	reqID string
}

type recordingPub struct {
	ch chan sentEvent
}

func (r *recordingPub) Publish(ctx context.Context, key string, event any, reqID string) error {
	r.ch <- sentEvent{key: key, event: event, reqID: reqID}
	return nil
}
func (r *recordingPub) Close() error { return nil }

type env struct {
	model *Model
	store *memory.Store
	clock *clock.Fake
	pub   *recordingPub
	ver   *fakeVerifier
}

func newEnv(t *testing.T) *env {
	t.Helper()
	g, err := security.NewSecretGenerator([]byte("k"), security.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	st := memory.New(g)
	clk := clock.NewFake(start)
	pub := &recordingPub{ch: make(chan sentEvent, 16)}
	ver := &fakeVerifier{identities: map[string]domain.ExternalIdentity{
		"Bearer ann": {SubjectID: "auth0|ann", Name: "Ann", PictureURL: "https://img/ann"},
		"Bearer bob": {SubjectID: "auth0|bob", Name: "Bob", PictureURL: "https://img/bob"},
	}}
	m := NewModel(Deps{
		Store:    st,
		Tokens:   tokens.NewService(st, g, zap.NewNop()),
		Verifier: ver,
		Policy:   g,
		Clock:    clk,
		Events:   pub,
		Log:      zap.NewNop(),
	})
	return &env{model: m, store: st, clock: clk, pub: pub, ver: ver}
}

func (e *env) nextEvent(t *testing.T) sentEvent {
	t.Helper()
	select {
	case ev := <-e.pub.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
		return sentEvent{}
	}
}

func TestRegisterThenLogin_SameUser(t *testing.T) {
	e := newEnv(t)
	ctx := log.WithRequestID(context.Background(), "req-1")

	reg, err := e.model.RegisterLocal(ctx, "Ann", "Ann@X.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "Ann", reg.User.Name)
	assert.Equal(t, reg.User.TimeJoined.Unix()+2592000, reg.Token.ExpiryTime.Unix())

	ev := e.nextEvent(t)
	assert.Equal(t, queue.KeyUserRegistered, ev.key)
	assert.Equal(t, "req-1", ev.reqID)
	assert.Equal(t, "ann@x.com", ev.event.(queue.UserRegistered).Email)

	e.clock.Advance(time.Minute)
	login, err := e.model.LoginLocal(ctx, "ann@x.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, login.User.ID)
	assert.NotEqual(t, reg.Token.Token, login.Token.Token)
	assert.Equal(t, queue.KeyUserLoggedIn, e.nextEvent(t).key)
}

func TestRegisterLocal_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cases := []struct{ name, email, pw string }{
		{"", "ann@x.com", "hunter22"},
		{"Ann", "not-an-email", "hunter22"},
		{"Ann", "ann@x.com", "short"},
		{"Ann", "ann@x.com", ""},
	}
	for _, c := range cases {
		_, err := e.model.RegisterLocal(ctx, c.name, c.email, c.pw)
		assert.ErrorIs(t, err, domain.ErrValidation, "%+v", c)
	}
}

func TestRegisterLocal_DuplicateEmail(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.model.RegisterLocal(ctx, "Ann", "ann@x.com", "hunter22")
	require.NoError(t, err)
	_, err = e.model.RegisterLocal(ctx, "Other Ann", "ANN@x.com", "different1")
	require.ErrorIs(t, err, domain.ErrDuplicateEmail)

	// first user unaffected
	login, err := e.model.LoginLocal(ctx, "ann@x.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, login.User.ID)
}

func TestLoginLocal_FailuresAreIndistinguishable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.model.RegisterLocal(ctx, "Ann", "ann@x.com", "hunter22")
	require.NoError(t, err)

	_, errWrongPw := e.model.LoginLocal(ctx, "ann@x.com", "wrong")
	_, errNoUser := e.model.LoginLocal(ctx, "bob@x.com", "hunter22")
	require.ErrorIs(t, errWrongPw, domain.ErrAuthFailed)
	require.ErrorIs(t, errNoUser, domain.ErrAuthFailed)
	assert.Equal(t, errWrongPw.Error(), errNoUser.Error())

	_, err = e.model.LoginLocal(ctx, "ann@x.com", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLoginLocal_LongPasswordPrefixDoesNotMatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pw := strings.Repeat("x", 72)
	_, err := e.model.RegisterLocal(ctx, "Ann", "ann@x.com", pw)
	require.NoError(t, err)

	_, err = e.model.LoginLocal(ctx, "ann@x.com", pw+"-different-suffix")
	require.ErrorIs(t, err, domain.ErrAuthFailed)

	_, err = e.model.LoginLocal(ctx, "ann@x.com", pw)
	require.NoError(t, err)
}

// flakyTokens fails IssueToken while down is set.
type flakyTokens struct {
	TokenService
	down bool
}

func (f *flakyTokens) IssueToken(ctx context.Context, userID string, issueTime time.Time) (domain.AuthToken, error) {
	if f.down {
		return domain.AuthToken{}, domain.StoreError("insert auth token", errors.New("conn reset"))
	}
	return f.TokenService.IssueToken(ctx, userID, issueTime)
}

func TestRegisterLocal_TokenFailureLeavesLoginableAccount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ft := &flakyTokens{TokenService: e.model.tokens, down: true}
	e.model.tokens = ft

	_, err := e.model.RegisterLocal(ctx, "Ann", "ann@x.com", "hunter22")
	require.ErrorIs(t, err, domain.ErrStore)

	inUse, err := e.model.CheckEmail(ctx, "ann@x.com")
	require.NoError(t, err)
	assert.True(t, inUse)

	_, err = e.model.RegisterLocal(ctx, "Ann", "ann@x.com", "hunter22")
	require.ErrorIs(t, err, domain.ErrDuplicateEmail)

	ft.down = false
	s, err := e.model.LoginLocal(ctx, "ann@x.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "Ann", s.User.Name)
	assert.NotEmpty(t, s.Token.Token)
}

func TestAuthenticateByToken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	reg, err := e.model.RegisterLocal(ctx, "Ann", "ann@x.com", "hunter22")
	require.NoError(t, err)

	s, err := e.model.AuthenticateByToken(ctx, reg.Token.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, s.User.ID)
	assert.Equal(t, reg.Token.Token, s.Token.Token)

	e.clock.Set(reg.Token.ExpiryTime)
	_, err = e.model.AuthenticateByToken(ctx, reg.Token.Token)
	require.ErrorIs(t, err, domain.ErrTokenExpired)

	_, err = e.model.AuthenticateByToken(ctx, "garbage")
	require.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestLoginOrRegisterExternal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.model.LoginOrRegisterExternal(ctx, "Bearer ann")
	require.NoError(t, err)
	assert.True(t, first.IsNew)
	assert.Equal(t, "https://img/ann", first.Identity.PictureURL)
	assert.Equal(t, queue.KeyExternalSignedIn, e.nextEvent(t).key)

	second, err := e.model.LoginOrRegisterExternal(ctx, "Bearer ann")
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.NotEqual(t, first.Token.Token, second.Token.Token)

	other, err := e.model.LoginOrRegisterExternal(ctx, "Bearer bob")
	require.NoError(t, err)
	assert.NotEqual(t, first.User.ID, other.User.ID)
}

func TestLoginOrRegisterExternal_ConcurrentFirstSignIn(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ids   = map[string]bool{}
		fresh int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := e.model.LoginOrRegisterExternal(ctx, "Bearer ann")
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			ids[s.User.ID] = true
			if s.IsNew {
				fresh++
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, fresh)
}

func TestLoginOrRegisterExternal_ProviderErrorsPassThrough(t *testing.T) {
	e := newEnv(t)
	for _, want := range []error{
		domain.ErrMalformedCredential,
		domain.ErrProviderUnavailable,
		domain.ErrProviderResponseInvalid,
		domain.ErrProviderUnauthorized,
	} {
		e.ver.err = want
		_, err := e.model.LoginOrRegisterExternal(context.Background(), "Bearer ann")
		assert.ErrorIs(t, err, want)
	}
}

func TestGetExternalUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, _, err := e.model.GetExternalUser(ctx, "Bearer ann")
	require.ErrorIs(t, err, domain.ErrUserDoesNotExist)

	s, err := e.model.LoginOrRegisterExternal(ctx, "Bearer ann")
	require.NoError(t, err)
	u, id, err := e.model.GetExternalUser(ctx, "Bearer ann")
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, u.ID)
	assert.Equal(t, "Ann", id.Name)
}

func TestCheckEmail(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	inUse, err := e.model.CheckEmail(ctx, "ann@x.com")
	require.NoError(t, err)
	assert.False(t, inUse)

	_, err = e.model.RegisterLocal(ctx, "Ann", "ann@x.com", "hunter22")
	require.NoError(t, err)

	inUse, err = e.model.CheckEmail(ctx, " ANN@x.com")
	require.NoError(t, err)
	assert.True(t, inUse)

	_, err = e.model.CheckEmail(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "unauthorized", Outcome(domain.ErrTokenExpired))
	assert.Equal(t, "store", Outcome(domain.StoreError("x", errors.New("y"))))
	assert.Equal(t, "internal", Outcome(errors.New("?")))
}

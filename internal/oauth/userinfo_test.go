package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhibayda/identity-service/internal/clock"
	"github.com/tazhibayda/identity-service/internal/domain"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newVerifier(t *testing.T, h http.HandlerFunc) (*Verifier, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewVerifier(Options{
		UserInfoURL: srv.URL + "/userinfo",
		Timeout:     time.Second,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		HTTPClient:  srv.Client(),
		Clock:       clock.NewFake(now),
	}), &calls
}

func TestVerify_Success(t *testing.T) {
	v, calls := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer opaque-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"user_id":"auth0|42","name":"Ann","picture":"https://img/ann.png","email":"ann@x.com"}`)
	})

	id, err := v.Verify(context.Background(), "Bearer opaque-token")
	require.NoError(t, err)
	assert.Equal(t, domain.ExternalIdentity{SubjectID: "auth0|42", Name: "Ann", PictureURL: "https://img/ann.png"}, id)
	assert.EqualValues(t, 1, *calls)
}

func TestVerify_SubFallback(t *testing.T) {
	v, _ := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sub":"google-oauth2|7","name":"Bob","picture":"https://img/bob.png"}`)
	})
	id, err := v.Verify(context.Background(), "Bearer x")
	require.NoError(t, err)
	assert.Equal(t, "google-oauth2|7", id.SubjectID)
}

func TestVerify_MalformedHeader(t *testing.T) {
	v, calls := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {})
	for _, h := range []string{"", "Token abc", "Bearer "} {
		_, err := v.Verify(context.Background(), h)
		require.ErrorIs(t, err, domain.ErrMalformedCredential, "%q", h)
	}
	assert.EqualValues(t, 0, *calls)
}

func TestVerify_Unauthorized(t *testing.T) {
	v, calls := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := v.Verify(context.Background(), "Bearer x")
	require.ErrorIs(t, err, domain.ErrProviderUnauthorized)
	assert.EqualValues(t, 1, *calls, "not retried")
}

func TestVerify_ServerErrorRetriedThenUnavailable(t *testing.T) {
	v, calls := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := v.Verify(context.Background(), "Bearer x")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.EqualValues(t, 3, *calls)
}

func TestVerify_RecoversAfterTransientError(t *testing.T) {
	var n int32
	v, calls := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"user_id":"u","name":"Ann","picture":"p"}`)
	})
	_, err := v.Verify(context.Background(), "Bearer x")
	require.NoError(t, err)
	assert.EqualValues(t, 2, *calls)
}

func TestVerify_OtherClientErrorIsUnavailable(t *testing.T) {
	v, calls := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := v.Verify(context.Background(), "Bearer x")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.EqualValues(t, 1, *calls)
}

func TestVerify_InvalidResponse(t *testing.T) {
	cases := map[string]string{
		"not json":        `<html>`,
		"missing subject": `{"name":"Ann","picture":"p"}`,
		"missing name":    `{"user_id":"u","picture":"p"}`,
		"missing picture": `{"user_id":"u","name":"Ann"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			v, _ := newVerifier(t, func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, body) })
			_, err := v.Verify(context.Background(), "Bearer x")
			require.ErrorIs(t, err, domain.ErrProviderResponseInvalid)
		})
	}
}

func TestVerify_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	v := NewVerifier(Options{UserInfoURL: url, Timeout: 200 * time.Millisecond, MaxAttempts: 2, Backoff: time.Millisecond})
	_, err := v.Verify(context.Background(), "Bearer x")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestVerify_ExpiredJWTRejectedLocally(t *testing.T) {
	v, calls := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"user_id":"u","name":"Ann","picture":"p"}`)
	})

	sign := func(exp time.Time) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u", "exp": exp.Unix()}).SignedString([]byte("irrelevant"))
		require.NoError(t, err)
		return s
	}

	_, err := v.Verify(context.Background(), "Bearer "+sign(now.Add(-time.Minute)))
	require.ErrorIs(t, err, domain.ErrProviderUnauthorized)
	assert.EqualValues(t, 0, *calls)

	_, err = v.Verify(context.Background(), "Bearer "+sign(now.Add(time.Hour)))
	require.NoError(t, err)
	assert.EqualValues(t, 1, *calls)
}

func TestHashSubjectID(t *testing.T) {
	a := HashSubjectID("auth0|42")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashSubjectID("auth0|42"))
	assert.NotEqual(t, a, HashSubjectID("auth0|43"))
}

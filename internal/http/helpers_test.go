package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tazhibayda/identity-service/internal/auth"
	"github.com/tazhibayda/identity-service/internal/clock"
	api "github.com/tazhibayda/identity-service/internal/http"
	"github.com/tazhibayda/identity-service/internal/oauth"
	"github.com/tazhibayda/identity-service/internal/queue"
	"github.com/tazhibayda/identity-service/internal/repo/memory"
	"github.com/tazhibayda/identity-service/internal/security"
	"github.com/tazhibayda/identity-service/internal/tokens"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// fake identity provider: "Bearer good-<name>" is a valid credential for
// subject auth0|<name>; "Bearer down" yields 503; everything else is 401.
func newProvider(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var name string
		h := r.Header.Get("Authorization")
		switch {
		case h == "Bearer down":
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		case h == "Bearer garbled":
			fmt.Fprint(w, `{"name":`)
			return
		default:
			if _, err := fmt.Sscanf(h, "Bearer good-%s", &name); err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"user_id": "auth0|" + name,
			"name":    name,
			"picture": "https://img.example.com/" + name + ".png",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	T      *testing.T
	Ctx    context.Context
	Clock  *clock.Fake
	Store  *memory.Store
	Router *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	gen, err := security.NewSecretGenerator([]byte("test-key"), security.WithBcryptCost(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("secrets: %v", err)
	}
	store := memory.New(gen)
	clk := clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	provider := newProvider(t)

	model := auth.NewModel(auth.Deps{
		Store:  store,
		Tokens: tokens.NewService(store, gen, zap.NewNop()),
		Verifier: oauth.NewVerifier(oauth.Options{
			UserInfoURL: provider.URL + "/userinfo",
			Timeout:     time.Second,
			MaxAttempts: 2,
			Backoff:     time.Millisecond,
			HTTPClient:  provider.Client(),
			Clock:       clk,
		}),
		Policy: gen,
		Clock:  clk,
		Events: queue.NewNoop(),
		Log:    zap.NewNop(),
	})

	gin.SetMode(gin.TestMode)
	h := api.NewHandler(model, store, zap.NewNop())
	r := api.NewRouter(h, "identity-test")

	return &testEnv{T: t, Ctx: ctx, Clock: clk, Store: store, Router: r}
}

func (e *testEnv) do(method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	e.Router.ServeHTTP(w, req)
	return w
}

type sessionBody struct {
	User struct {
		ExternalID   string `json:"externalId"`
		Name         string `json:"name"`
		TimeJoinedTs int64  `json:"timeJoinedTs"`
	} `json:"user"`
	AuthToken struct {
		Token        string `json:"token"`
		ExpiryTimeTs int64  `json:"expiryTimeTs"`
	} `json:"authToken"`
}

type externalBody struct {
	User struct {
		ID           string `json:"id"`
		TimeJoinedTs int64  `json:"timeJoinedTs"`
		Name         string `json:"name"`
		PictureURL   string `json:"pictureUrl"`
	} `json:"user"`
	AuthToken *struct {
		Token        string `json:"token"`
		ExpiryTimeTs int64  `json:"expiryTimeTs"`
	} `json:"authToken"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v; body=%s", err, w.Body.String())
	}
	return v
}

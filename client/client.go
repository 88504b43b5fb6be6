// Package client lets other gin services require an identity-service user on
// their routes.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tazhibayda/identity-service/internal/validation"
	"go.uber.org/zap"
)

const userKey = "identity.user"

// User is the body of GET /user on the identity service.
type User struct {
	ID           string `json:"id" validate:"required"`
	TimeJoinedTs int64  `json:"timeJoinedTs" validate:"required"`
	Name         string `json:"name" validate:"required"`
	PictureURL   string `json:"pictureUrl" validate:"required"`
}

type userResponse struct {
	User *User `json:"user" validate:"required"`
}

type Options struct {
	// BaseURL of the identity service, e.g. http://identity:8080.
	BaseURL    string
	HTTPClient *http.Client
	// Public routes (gin full paths) skip the check.
	Public []string
	Log    *zap.Logger
}

type Client struct {
	userURL string
	hc      *http.Client
	public  map[string]struct{}
	log     *zap.Logger
}

func New(o Options) *Client {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	pub := make(map[string]struct{}, len(o.Public))
	for _, p := range o.Public {
		pub[p] = struct{}{}
	}
	return &Client{
		userURL: strings.TrimSuffix(o.BaseURL, "/") + "/user",
		hc:      o.HTTPClient,
		public:  pub,
		log:     o.Log,
	}
}

var (
	errUnauthorized = errors.New("identity service refused the credential")
	errNoUser       = errors.New("user does not exist")
	errUpstream     = errors.New("cannot retrieve data from identity service")
	errDecode       = errors.New("cannot decode data from identity service")
)

// RequireUser rejects requests that the identity service does not recognise
// and stores the resolved user in the gin context.
func (cl *Client) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		if _, ok := cl.public[c.FullPath()]; ok {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if _, err := validation.BearerHeader(header); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid Authorization header"})
			return
		}

		u, err := cl.FetchUser(c.Request.Context(), header)
		switch {
		case err == nil:
			c.Set(userKey, u)
			c.Next()
		case errors.Is(err, errUnauthorized):
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		case errors.Is(err, errNoUser):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": errNoUser.Error()})
		case errors.Is(err, errDecode):
			cl.log.Error("identity: bad response", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errDecode.Error()})
		default:
			cl.log.Warn("identity: upstream failure", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": errUpstream.Error()})
		}
	}
}

// FetchUser calls GET /user with the caller's Authorization header as is.
func (cl *Client) FetchUser(ctx context.Context, authorizationHeader string) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cl.userURL, nil)
	if err != nil {
		return User{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", authorizationHeader)
	req.Header.Set("Accept", "application/json")

	resp, err := cl.hc.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("%w: %w", errUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return User{}, errUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return User{}, errNoUser
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return User{}, fmt.Errorf("%w: status %d", errUpstream, resp.StatusCode)
	}

	var body userResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return User{}, fmt.Errorf("%w: %w", errDecode, err)
	}
	if err := validation.Struct(body); err != nil {
		return User{}, fmt.Errorf("%w: %w", errDecode, err)
	}
	return *body.User, nil
}

// UserFrom returns the user RequireUser stored on the context.
func UserFrom(c *gin.Context) (User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return User{}, false
	}
	u, ok := v.(User)
	return u, ok
}

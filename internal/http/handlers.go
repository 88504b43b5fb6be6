package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tazhibayda/identity-service/internal/auth"
	"github.com/tazhibayda/identity-service/internal/domain"
	"go.uber.org/zap"
)

// AuthService is the use-case surface the transport needs.
type AuthService interface {
	RegisterLocal(ctx context.Context, name, emailAddress, password string) (auth.Session, error)
	LoginLocal(ctx context.Context, emailAddress, password string) (auth.Session, error)
	AuthenticateByToken(ctx context.Context, token string) (auth.Session, error)
	CheckEmail(ctx context.Context, emailAddress string) (bool, error)
	LoginOrRegisterExternal(ctx context.Context, authorizationHeader string) (auth.ExternalSession, error)
	GetExternalUser(ctx context.Context, authorizationHeader string) (domain.User, domain.ExternalIdentity, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Auth  AuthService
	Store Pinger
	Log   *zap.Logger
}

func NewHandler(svc AuthService, store Pinger, log *zap.Logger) *Handler {
	return &Handler{Auth: svc, Store: store, Log: log}
}

type userResp struct {
	ExternalID   string `json:"externalId"`
	Name         string `json:"name"`
	TimeJoinedTs int64  `json:"timeJoinedTs"`
}

type authTokenResp struct {
	Token        string `json:"token"`
	ExpiryTimeTs int64  `json:"expiryTimeTs"`
}

type sessionResp struct {
	User      userResp      `json:"user"`
	AuthToken authTokenResp `json:"authToken"`
}

type externalUserResp struct {
	ID           string `json:"id"`
	TimeJoinedTs int64  `json:"timeJoinedTs"`
	Name         string `json:"name"`
	PictureURL   string `json:"pictureUrl"`
}

type externalSessionResp struct {
	User      externalUserResp `json:"user"`
	AuthToken *authTokenResp   `json:"authToken,omitempty"`
}

type checkEmailResp struct {
	InUse bool `json:"inUse"`
}

func toSessionResp(s auth.Session) sessionResp {
	return sessionResp{
		User: userResp{
			ExternalID:   s.User.ExternalID,
			Name:         s.User.Name,
			TimeJoinedTs: s.User.TimeJoined.Unix(),
		},
		AuthToken: toTokenResp(s.Token),
	}
}

func toTokenResp(t domain.AuthToken) authTokenResp {
	return authTokenResp{Token: t.Token, ExpiryTimeTs: t.ExpiryTime.Unix()}
}

func toExternalUserResp(u domain.User, id domain.ExternalIdentity) externalUserResp {
	return externalUserResp{
		ID:           u.ID,
		TimeJoinedTs: u.TimeJoined.Unix(),
		Name:         id.Name,
		PictureURL:   id.PictureURL,
	}
}

type registerReq struct {
	Name         string `json:"name"`
	EmailAddress string `json:"emailAddress"`
	Password     string `json:"password"`
}

// CreateUser godoc
// @Summary Register with email and password
// @Tags users
// @Accept json
// @Produce json
// @Param payload body registerReq true "new user"
// @Success 201 {object} sessionResp
// @Failure 400 {object} map[string]string
// @Router /users [post]
func (h *Handler) CreateUser(c *gin.Context) {
	var in registerReq
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	s, err := h.Auth.RegisterLocal(c.Request.Context(), in.Name, in.EmailAddress, in.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSessionResp(s))
}

// GetUsers godoc
// @Summary Authenticate by auth token (t=a) or email and password (t=ep)
// @Tags users
// @Produce json
// @Param t query string true "a | ep"
// @Param authtoken query string false "auth token (t=a)"
// @Param email query string false "email address (t=ep)"
// @Param pass query string false "password (t=ep)"
// @Success 200 {object} sessionResp
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /users [get]
func (h *Handler) GetUsers(c *gin.Context) {
	var (
		s   auth.Session
		err error
	)
	switch c.Query("t") {
	case "a":
		s, err = h.Auth.AuthenticateByToken(c.Request.Context(), c.Query("authtoken"))
	case "ep":
		s, err = h.Auth.LoginLocal(c.Request.Context(), c.Query("email"), c.Query("pass"))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "t must be one of a, ep"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResp(s))
}

// CheckEmail godoc
// @Summary Check whether an email address is registered
// @Tags users
// @Produce json
// @Param email query string true "email address"
// @Success 200 {object} checkEmailResp
// @Failure 400 {object} map[string]string
// @Router /users/check-email [get]
func (h *Handler) CheckEmail(c *gin.Context) {
	inUse, err := h.Auth.CheckEmail(c.Request.Context(), c.Query("email"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, checkEmailResp{InUse: inUse})
}

// PostUser godoc
// @Summary Sign in (or up) with an identity provider access token
// @Tags user
// @Produce json
// @Param Authorization header string true "Bearer <provider access token>"
// @Success 200 {object} externalSessionResp
// @Success 201 {object} externalSessionResp
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Router /user [post]
func (h *Handler) PostUser(c *gin.Context) {
	s, err := h.Auth.LoginOrRegisterExternal(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if s.IsNew {
		status = http.StatusCreated
	}
	tok := toTokenResp(s.Token)
	c.JSON(status, externalSessionResp{User: toExternalUserResp(s.User, s.Identity), AuthToken: &tok})
}

// GetUser godoc
// @Summary Fetch the user linked to an identity provider access token
// @Tags user
// @Produce json
// @Param Authorization header string true "Bearer <provider access token>"
// @Success 200 {object} externalSessionResp
// @Failure 401 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /user [get]
func (h *Handler) GetUser(c *gin.Context) {
	u, id, err := h.Auth.GetExternalUser(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, externalSessionResp{User: toExternalUserResp(u, id)})
}

// Healthz godoc
// @Summary Liveness and store connectivity
// @Tags ops
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /healthz [get]
func (h *Handler) Healthz(c *gin.Context) {
	if err := h.Store.Ping(c.Request.Context()); err != nil {
		h.Log.Warn("healthz: store ping failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

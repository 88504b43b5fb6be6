package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tazhibayda/identity-service/internal/auth"
	"github.com/tazhibayda/identity-service/internal/domain"
	"github.com/tazhibayda/identity-service/internal/log"
	"go.uber.org/zap"
)

// StatusFor maps a domain error to its HTTP status and public message. The
// message never says why authentication failed.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrDuplicateEmail):
		return http.StatusBadRequest, "email address already in use"
	case errors.Is(err, domain.ErrUserAlreadyExists):
		return http.StatusBadRequest, "user already exists"
	case errors.Is(err, domain.ErrMalformedCredential):
		return http.StatusBadRequest, "invalid Authorization header"
	case domain.IsUnauthorized(err), errors.Is(err, domain.ErrProviderUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrUserDoesNotExist), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "user does not exist"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusBadGateway, "identity provider unavailable"
	case errors.Is(err, domain.ErrProviderResponseInvalid):
		return http.StatusInternalServerError, "identity provider response invalid"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, msg := StatusFor(err)
	l := log.WithDD(c.Request.Context(), h.Log,
		zap.String("request_id", log.RequestID(c.Request.Context())),
		zap.String("outcome", auth.Outcome(err)),
	)
	if status >= 500 {
		l.Error("request failed", zap.Error(err))
	} else {
		l.Debug("request rejected", zap.Int("status", status))
	}
	_ = c.Error(err)
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
	}
	c.JSON(status, gin.H{"error": msg})
}

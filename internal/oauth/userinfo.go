// Package oauth verifies provider bearer credentials against the identity
// provider's user-info endpoint.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sethvargo/go-retry"
	"github.com/tazhibayda/identity-service/internal/clock"
	"github.com/tazhibayda/identity-service/internal/domain"
	"github.com/tazhibayda/identity-service/internal/helper"
	"github.com/tazhibayda/identity-service/internal/metrics"
	"github.com/tazhibayda/identity-service/internal/validation"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const maxProfileBytes = 1 << 20

// profile is the subset of the user-info document we rely on. Older tenants
// send user_id, OIDC ones send sub.
type profile struct {
	UserID  string `json:"user_id" validate:"required_without=Sub"`
	Sub     string `json:"sub" validate:"required_without=UserID"`
	Name    string `json:"name" validate:"required"`
	Picture string `json:"picture" validate:"required"`
}

func (p profile) subject() string {
	if p.UserID != "" {
		return p.UserID
	}
	return p.Sub
}

type Options struct {
	UserInfoURL string
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxAttempts includes the first call.
	MaxAttempts uint64
	Backoff     time.Duration
	// HTTPClient is the base transport; defaults to http.DefaultClient.
	HTTPClient *http.Client
	Clock      clock.Clock
	Log        *zap.Logger
}

type Verifier struct {
	opts Options
}

func NewVerifier(o Options) *Verifier {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 1
	}
	if o.Backoff <= 0 {
		o.Backoff = 100 * time.Millisecond
	}
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.Clock == nil {
		o.Clock = clock.System{}
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	return &Verifier{opts: o}
}

// HashSubjectID is the uniqueness key for an external identity.
func HashSubjectID(subjectID string) string {
	return helper.SHA256Hex(subjectID)
}

// Verify exchanges the Authorization header value for a verified identity.
// Errors are always one of the domain provider/credential kinds.
func (v *Verifier) Verify(ctx context.Context, authorizationHeader string) (domain.ExternalIdentity, error) {
	credential, err := validation.BearerHeader(authorizationHeader)
	if err != nil {
		return domain.ExternalIdentity{}, err
	}
	if err := v.precheck(credential); err != nil {
		metrics.ProviderRequests.WithLabelValues("expired_locally").Inc()
		return domain.ExternalIdentity{}, err
	}

	var p profile
	backoff := retry.WithMaxRetries(v.opts.MaxAttempts-1, retry.NewConstant(v.opts.Backoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var ferr error
		p, ferr = v.fetch(ctx, credential)
		return ferr
	})
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(outcome(err)).Inc()
		if !isDomainError(err) {
			// retry.Do returns ctx.Err() when the caller gives up.
			err = fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
		}
		return domain.ExternalIdentity{}, err
	}
	metrics.ProviderRequests.WithLabelValues("ok").Inc()
	return domain.ExternalIdentity{SubjectID: p.subject(), Name: p.Name, PictureURL: p.Picture}, nil
}

// precheck rejects JWT-shaped credentials whose exp has passed without a
// network round trip. Opaque or unparsable credentials go to the provider.
func (v *Verifier) precheck(credential string) error {
	if strings.Count(credential, ".") != 2 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser(jwt.WithoutClaimsValidation()).ParseUnverified(credential, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !v.opts.Clock.Now().Before(exp.Time) {
		return fmt.Errorf("%w: credential expired", domain.ErrProviderUnauthorized)
	}
	return nil
}

func (v *Verifier) fetch(ctx context.Context, credential string) (profile, error) {
	ctx, cancel := context.WithTimeout(ctx, v.opts.Timeout)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, v.opts.HTTPClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: credential, TokenType: "Bearer"}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.opts.UserInfoURL, nil)
	if err != nil {
		return profile{}, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		v.opts.Log.Warn("userinfo request failed", zap.Error(err))
		return profile{}, retry.RetryableError(fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return profile{}, fmt.Errorf("%w: status %d", domain.ErrProviderUnauthorized, resp.StatusCode)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		v.opts.Log.Warn("userinfo upstream error", zap.Int("status", resp.StatusCode))
		return profile{}, retry.RetryableError(fmt.Errorf("%w: status %d", domain.ErrProviderUnavailable, resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return profile{}, fmt.Errorf("%w: status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}

	var p profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes)).Decode(&p); err != nil {
		return profile{}, fmt.Errorf("%w: decode: %v", domain.ErrProviderResponseInvalid, err)
	}
	if err := validation.Struct(p); err != nil {
		return profile{}, fmt.Errorf("%w: %v", domain.ErrProviderResponseInvalid, err)
	}
	return p, nil
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrProviderUnavailable) ||
		errors.Is(err, domain.ErrProviderUnauthorized) ||
		errors.Is(err, domain.ErrProviderResponseInvalid) ||
		errors.Is(err, domain.ErrMalformedCredential)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrProviderUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrProviderResponseInvalid):
		return "invalid_response"
	default:
		return "unavailable"
	}
}

// Package security generates user secrets and hides passwords.
package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/tazhibayda/identity-service/internal/domain"
)

// UserSecretSize is the length of every value returned by GenerateUserSecret.
const UserSecretSize = 2 * sha256.Size

const nonceSize = 32

type SecretGenerator struct {
	key            []byte
	cost           int
	minPasswordLen int
	rand           io.Reader
}

type Option func(*SecretGenerator)

func WithBcryptCost(cost int) Option {
	return func(g *SecretGenerator) { g.cost = cost }
}

func WithMinPasswordLength(n int) Option {
	return func(g *SecretGenerator) { g.minPasswordLen = n }
}

// WithRandom replaces crypto/rand, used by tests to force collisions or failures.
func WithRandom(r io.Reader) Option {
	return func(g *SecretGenerator) { g.rand = r }
}

// NewSecretGenerator builds a generator keyed by the process secret key. An
// empty key is replaced by a random one, which makes secrets unverifiable
// across restarts but never predictable.
func NewSecretGenerator(key []byte, opts ...Option) (*SecretGenerator, error) {
	g := &SecretGenerator{
		key:            key,
		cost:           DefaultBcryptCost,
		minPasswordLen: DefaultMinPasswordLength,
		rand:           rand.Reader,
	}
	for _, o := range opts {
		o(g)
	}
	if len(g.key) == 0 {
		g.key = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, g.key); err != nil {
			return nil, fmt.Errorf("generate process key: %w", err)
		}
	}
	if g.minPasswordLen < 1 {
		g.minPasswordLen = 1
	}
	return g, nil
}

// GenerateUserSecret returns HMAC-SHA256(key, userID || nonce) in hex. The
// fresh nonce makes every call distinct; the key makes the value
// unforgeable from userID alone.
func (g *SecretGenerator) GenerateUserSecret(userID string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(g.rand, nonce); err != nil {
		return "", fmt.Errorf("read entropy: %w: %w", domain.ErrInternal, err)
	}
	mac := hmac.New(sha256.New, g.key)
	mac.Write([]byte(userID))
	mac.Write([]byte{0})
	mac.Write(nonce)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Package queue publishes identity domain events.
package queue

import (
	"context"
	"time"
)

// Routing keys.
const (
	KeyUserRegistered   = "user.registered"
	KeyUserLoggedIn     = "user.logged_in"
	KeyExternalSignedIn = "user.external_signed_in"
)

type Publisher interface {
	Publish(ctx context.Context, key string, event any, reqID string) error
	Close() error
}

type NoopPub struct{}

func NewNoop() Publisher { return NoopPub{} }

func (NoopPub) Publish(ctx context.Context, key string, event any, reqID string) error {
	return nil
}
func (NoopPub) Close() error { return nil }

type UserRegistered struct {
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	TimeJoined time.Time `json:"time_joined"`
}

type UserLoggedIn struct {
	UserID string    `json:"user_id"`
	Method string    `json:"method"`
	At     time.Time `json:"at"`
}

type ExternalSignedIn struct {
	UserID string    `json:"user_id"`
	IsNew  bool      `json:"is_new"`
	At     time.Time `json:"at"`
}

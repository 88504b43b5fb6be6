package domain

import "time"

type UserStatus string

const (
	StatusAdded    UserStatus = "ADDED"
	StatusActive   UserStatus = "ACTIVE"
	StatusInactive UserStatus = "INACTIVE"
)

// User is a provisioned identity. ExternalID is the public-facing secret handed
// out to clients; ID never leaves the service except on the external-identity
// routes.
type User struct {
	ID         string
	ExternalID string
	Name       string
	Status     UserStatus
	TimeJoined time.Time
	TimeLeft   *time.Time
}

type LocalCredential struct {
	UserID         string
	EmailAddress   string
	HiddenPassword string
}

// ExternalIdentityLink binds a user to a provider subject. Only the hash of the
// subject id is stored.
type ExternalIdentityLink struct {
	UserID      string
	SubjectHash string
}

type AuthToken struct {
	Token      string
	UserID     string
	ExpiryTime time.Time
}

// Expired reports whether the token is no longer valid at now. A token whose
// expiry equals now is expired.
func (t AuthToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiryTime)
}

// ExternalIdentity is the verified profile returned by the identity provider.
type ExternalIdentity struct {
	SubjectID  string
	Name       string
	PictureURL string
}

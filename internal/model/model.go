// Package model defines domain entities used by services and repositories.
package model

import (
	"crypto/ecdsa"
	"encoding/base64"
	"time"

	"github.com/gofrs/uuid/v5"
)

// TraceIDLen is the size of a derived trace identifier.
const TraceIDLen = 16

// UserIdentity is the long-term identity created once at registration.
type UserIdentity struct {
	UserID     uuid.UUID         // assigned by the backend, Nil until registered
	SigningKey *ecdsa.PrivateKey // long-term P-256 signing key
	DataSecret []byte            // 32 bytes, encrypts contact data
}

// Registered reports whether the backend has assigned a user id.
func (u UserIdentity) Registered() bool { return u.UserID != uuid.Nil }

// DailyKey is a health-authority published rotating public key.
type DailyKey struct {
	KeyID       int       `json:"keyId"`
	CreatedAt   time.Time `json:"createdAt"`
	IssuerID    uuid.UUID `json:"issuerId"`
	PublicKey   []byte    `json:"publicKey"`             // uncompressed P-256 point
	Signature   []byte    `json:"signature"`             // ASN.1 ECDSA by the issuer
	SignedToken string    `json:"signedToken,omitempty"` // ES256 JWT form, optional
}

// IssuerKeys holds the signing key of a daily-key issuer.
type IssuerKeys struct {
	IssuerID         uuid.UUID `json:"issuerId"`
	Name             string    `json:"name"`
	SigningPublicKey []byte    `json:"signingPublicKey"` // uncompressed or compressed P-256 point
}

// Scanner is a venue scanner resolved by the backend.
type Scanner struct {
	ScannerID      uuid.UUID `json:"scannerId"`
	LocationID     uuid.UUID `json:"locationId"`
	VenuePublicKey []byte    `json:"venuePublicKey"` // uncompressed P-256 point
}

// CoreKey identifies a trace-id epoch.
type CoreKey struct {
	Timestamp  int64
	DailyKeyID int
}

// TraceIDCore is a not-yet-finalized trace: which daily-key epoch and which
// check-in timestamp a QR code was built for.
type TraceIDCore struct {
	Timestamp  int64     // unix seconds, rounded down to the minute
	DailyKeyID int       // daily key the QR payload was encrypted for
	CreatedAt  time.Time // expiry is measured from here
}

// Key returns the cache key of the core.
func (c TraceIDCore) Key() CoreKey {
	return CoreKey{Timestamp: c.Timestamp, DailyKeyID: c.DailyKeyID}
}

// Expired reports whether the core is older than ttl at now.
func (c TraceIDCore) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.CreatedAt) >= ttl
}

// TraceID is a derived 16-byte trace identifier.
type TraceID struct {
	ID      [TraceIDLen]byte
	CheckIn time.Time
}

// String returns the wire form (standard base64).
func (t TraceID) String() string {
	return base64.StdEncoding.EncodeToString(t.ID[:])
}

// TraceInfo is the durable local record of one check-in episode.
type TraceInfo struct {
	TraceID    string     `json:"traceId"`
	CheckIn    time.Time  `json:"checkin"`
	CheckOut   *time.Time `json:"checkout,omitempty"`
	LocationID uuid.UUID  `json:"locationId"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
}

// IsCheckedIn reports whether the episode has no check-out yet.
func (t TraceInfo) IsCheckedIn() bool { return t.CheckOut == nil }

// AccessedTraceID is a confirmed third-party access to local trace ids.
type AccessedTraceID struct {
	HealthDepartmentID uuid.UUID  `json:"healthDepartmentId"`
	TraceIDs           []string   `json:"traceIds"`
	SightDate          time.Time  `json:"sightDate"`
	NotifiedDate       *time.Time `json:"notifiedDate,omitempty"`
	ConsumedDate       *time.Time `json:"consumedDate,omitempty"`
}

// AccessedHashes is one health department's list of accessed hashed trace ids.
type AccessedHashes struct {
	HealthDepartmentID uuid.UUID `json:"healthDepartmentId"`
	HashedTraceIDs     []string  `json:"hashedTraceIds"`
}

// TraceSecret is a per-day trace secret, exported on consent.
type TraceSecret struct {
	Day    time.Time `json:"day"`
	Secret []byte    `json:"secret"`
}

// EpisodeState is the local state of the current check-in episode.
type EpisodeState int

const (
	NotCheckedIn EpisodeState = iota
	PendingConfirmation
	CheckedIn
	CheckedOut
)

func (s EpisodeState) String() string {
	switch s {
	case PendingConfirmation:
		return "pending_confirmation"
	case CheckedIn:
		return "checked_in"
	case CheckedOut:
		return "checked_out"
	default:
		return "not_checked_in"
	}
}

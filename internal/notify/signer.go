package notify

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Permission grants one action on one frontend object.
type Permission struct {
	Action string
	ID     int
}

// MarshalJSON renders the permission as ["write", {"id": 12}].
func (p Permission) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.Action, map[string]int{"id": p.ID}})
}

// Permissions are scoped per object type.
type Permissions struct {
	Instances []Permission `json:"instances"`
}

type claims struct {
	jwt.RegisteredClaims
	Permissions Permissions `json:"permissions"`
}

// Signer issues short-lived HS256 bearer tokens for frontend calls.
type Signer struct {
	Key    []byte
	Issuer string
	TTL    time.Duration

	now func() time.Time
}

// NewSigner returns a signer whose tokens are valid for ttl.
func NewSigner(key, issuer string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Signer{Key: []byte(key), Issuer: issuer, TTL: ttl, now: time.Now}
}

// WriteToken returns a token allowing writes to the course instance remoteID.
func (s *Signer) WriteToken(remoteID int) (string, error) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	issued := now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(s.TTL)),
		},
		Permissions: Permissions{Instances: []Permission{{Action: "write", ID: remoteID}}},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.Key)
}

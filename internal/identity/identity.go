// Package identity issues and parses the opaque, server-signed identity
// token a client persists across reconnects. There is no account system
// behind it — no password, no user record — just a stable id a client can
// echo back on its next connection so the gateway can reattach any seat it
// previously held.
package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/qingchang/cardtable/internal/types"
)

// Claims carries the opaque identity in place of the teacher's
// password-authenticated UserID claim.
type Claims struct {
	Identity types.Identity `json:"identity"`
	jwt.RegisteredClaims
}

// Manager issues and parses identity tokens, grounded on the teacher's
// auth.JWTManager (HS256, a TTL) minus the bcrypt password half this spec
// has no account system to need.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// Issue mints a fresh opaque identity and signs it. Called by the REST
// identity endpoint the first time a client connects.
func (m *Manager) Issue() (types.Identity, string, error) {
	id := types.Identity(uuid.NewString())
	token, err := m.Sign(id)
	return id, token, err
}

// Sign signs a token for an already-known identity, used to re-issue a
// token for a reconnecting client that already has an id but needs a
// fresh, non-expired token.
func (m *Manager) Sign(id types.Identity) (string, error) {
	claims := Claims{
		Identity: id,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Parse validates a token and returns the identity it carries.
func (m *Manager) Parse(tokenStr string) (types.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.Identity, nil
}

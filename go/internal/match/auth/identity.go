package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
)

// Role is the part a connection plays in a match room.
type Role string

const (
	RoleReferee   Role = "referee"
	RoleCoach     Role = "coach"
	RoleSpectator Role = "spectator"
)

func (r Role) Valid() bool {
	switch r {
	case RoleReferee, RoleCoach, RoleSpectator:
		return true
	}
	return false
}

// Capability names a room-scoped action.
type Capability string

const (
	CapTimerControl Capability = "timer.control"
	CapStatusChange Capability = "status.change"
	CapEventEntry   Capability = "event.entry"
	CapEventSubmit  Capability = "event.submit"
	CapChat         Capability = "chat.send"
)

// Identity is the authenticated caller behind a connection.
type Identity struct {
	UserID      string   `json:"userId"`
	Roles       []Role   `json:"roles"`
	TeamID      string   `json:"teamId,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

func (i Identity) HasRole(role Role) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (i Identity) HasPermission(p string) bool {
	for _, have := range i.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// Claims is the token payload.
type Claims struct {
	Roles       []string `json:"roles"`
	TeamID      string   `json:"team_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256 bearer tokens.
type JWTAuthenticator struct {
	secret []byte
	issuer string
}

func NewJWTAuthenticator(secret, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), issuer: issuer}
}

// Authenticate reads the token from the Authorization header, falling back to
// the token query parameter since browsers cannot set headers on a WebSocket upgrade.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return Identity{}, matcherr.Unauthorized("missing token")
	}
	return a.Verify(token)
}

// Verify parses token and returns the identity it carries.
func (a *JWTAuthenticator) Verify(token string) (Identity, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, matcherr.Transport(err, "token expired")
		}
		return Identity{}, matcherr.Unauthorized("invalid token: %v", err)
	}

	if claims.Subject == "" {
		return Identity{}, matcherr.Unauthorized("token has no subject")
	}

	id := Identity{
		UserID:      claims.Subject,
		TeamID:      claims.TeamID,
		Permissions: claims.Permissions,
	}
	for _, r := range claims.Roles {
		if role := Role(r); role.Valid() {
			id.Roles = append(id.Roles, role)
		}
	}
	return id, nil
}

// Issue signs a token for id valid for ttl.
func (a *JWTAuthenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TeamID:      id.TeamID,
		Permissions: id.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	for _, r := range id.Roles {
		claims.Roles = append(claims.Roles, string(r))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Package identify resolves the EntityIdentity a Client is constructed
// with at upgrade time, from an optional bearer JWT, falling back to an
// anonymous guest identity. It is a collaborator the server wires in at
// startup, never a dependency of internal/hub.
package identify

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"relayhub/internal/client"
)

var (
	// ErrInvalidToken is returned when a bearer token is present but
	// fails signature or expiry validation.
	ErrInvalidToken = errors.New("identify: invalid bearer token")
)

// Claims is the subset of JWT claims an identity is derived from.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// Resolver extracts a client.Identity from an inbound upgrade request.
type Resolver struct {
	secret []byte
}

// NewResolver constructs a Resolver that validates bearer tokens with secret.
func NewResolver(secret []byte) *Resolver {
	return &Resolver{secret: secret}
}

// Resolve reads the Authorization header off r. A well-formed, valid
// "Bearer <jwt>" header yields the identity encoded in its claims. A
// missing header yields an anonymous guest identity. A malformed or
// invalid token is reported as an error so the caller can reject the
// upgrade, rather than silently downgrading to anonymous.
func (r *Resolver) Resolve(req *http.Request) (client.Identity, error) {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		return anonymousIdentity(), nil
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return client.Identity{}, fmt.Errorf("identify: malformed Authorization header")
	}

	claims, err := r.validate(parts[1])
	if err != nil {
		return client.Identity{}, err
	}

	name := claims.Name
	if name == "" {
		name = claims.UserID
	}
	return client.Identity{ID: claims.UserID, Name: name}, nil
}

func (r *Resolver) validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func anonymousIdentity() client.Identity {
	id := uuid.NewString()
	return client.Identity{
		ID:   "guest-" + id,
		Name: "Guest-" + id[:8],
	}
}

// IssueToken is a small helper used by tests and local tooling to mint a
// token this resolver will accept.
func IssueToken(secret []byte, userID, name string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

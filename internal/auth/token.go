package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AnonymousRole is the role granted to requests without a token.
const AnonymousRole = "anonymous"

// Principal is the caller a submission operation runs on behalf of.
type Principal struct {
	ID    *uuid.UUID
	Roles []string
	Admin bool
	Token string
}

// Anonymous returns the principal used for unauthenticated requests.
func Anonymous() *Principal {
	return &Principal{Roles: []string{AnonymousRole}}
}

// HasRole reports whether the principal carries any of roles.
func (p *Principal) HasRole(roles ...string) bool {
	if p == nil {
		return false
	}
	for _, want := range roles {
		for _, have := range p.Roles {
			if want == have {
				return true
			}
		}
	}
	return false
}

type Claims struct {
	Roles []string `json:"roles,omitempty"`
	Admin bool     `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs an HS256 token for the principal.
func Issue(secret []byte, p *Principal, ttl time.Duration) (string, error) {
	claims := Claims{
		Roles: p.Roles,
		Admin: p.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	if p.ID != nil {
		claims.Subject = p.ID.String()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Parse validates a token and returns its principal.
func Parse(secret []byte, tokenString string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	p := &Principal{Roles: claims.Roles, Admin: claims.Admin, Token: tokenString}
	if claims.Subject != "" {
		id, err := uuid.Parse(claims.Subject)
		if err != nil {
			return nil, fmt.Errorf("invalid subject: %w", err)
		}
		p.ID = &id
	}
	return p, nil
}

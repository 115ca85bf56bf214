package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"formio-api/internal/auth"
	"formio-api/internal/model"
	"formio-api/pkg/response"

	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// RoleLister loads the role documents used to resolve admin roles.
type RoleLister interface {
	ListAll(ctx context.Context) ([]model.Role, error)
}

// adminCacheEntry stores the admin role ids with a TTL
type adminCacheEntry struct {
	ids       map[string]bool
	expiresAt time.Time
}

// Authenticator resolves the caller of a request from its JWT.
type Authenticator struct {
	secret []byte
	roles  RoleLister
	ttl    time.Duration

	cache sync.Map // "admin" -> adminCacheEntry
}

func NewAuthenticator(secret []byte, roles RoleLister) *Authenticator {
	return &Authenticator{secret: secret, roles: roles, ttl: 5 * time.Minute}
}

// tokenFromRequest reads x-jwt-token first, then a Bearer Authorization header
func tokenFromRequest(c *gin.Context) (string, bool) {
	if token := strings.TrimSpace(c.GetHeader("x-jwt-token")); token != "" {
		return token, true
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", true
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

// Authenticate attaches the caller to the request. Requests without a
// token continue as anonymous; a bad token is rejected.
func (a *Authenticator) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := tokenFromRequest(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid authorization format. Expected 'Bearer <token>'"))
			return
		}
		if tokenString == "" {
			c.Set(principalKey, auth.Anonymous())
			c.Next()
			return
		}

		principal, err := auth.Parse(a.secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token"))
			return
		}
		principal.Token = tokenString
		if !principal.Admin {
			admins, err := a.adminRoles(c.Request.Context())
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to verify permissions"))
				return
			}
			for _, role := range principal.Roles {
				if admins[role] {
					principal.Admin = true
					break
				}
			}
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// RequireAdmin rejects callers that are not administrators.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if p.ID == nil && !p.Admin {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Unauthorized"))
			return
		}
		if !p.Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: insufficient permissions"))
			return
		}
		c.Next()
	}
}

// PrincipalFrom returns the caller set by Authenticate, or anonymous.
func PrincipalFrom(c *gin.Context) *auth.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(*auth.Principal); ok {
			return p
		}
	}
	return auth.Anonymous()
}

// adminRoles returns cached or freshly loaded admin role ids
func (a *Authenticator) adminRoles(ctx context.Context) (map[string]bool, error) {
	if entry, ok := a.cache.Load("admin"); ok {
		cached := entry.(adminCacheEntry)
		if time.Now().Before(cached.expiresAt) {
			return cached.ids, nil
		}
	}
	if a.roles == nil {
		return map[string]bool{}, nil
	}

	roles, err := a.roles.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	ids := map[string]bool{}
	for _, r := range roles {
		if r.Admin {
			ids[r.ID.String()] = true
		}
	}
	a.cache.Store("admin", adminCacheEntry{ids: ids, expiresAt: time.Now().Add(a.ttl)})
	return ids, nil
}

// ClearRoleCache drops the cached admin roles after a role changed.
func (a *Authenticator) ClearRoleCache() {
	a.cache.Delete("admin")
}

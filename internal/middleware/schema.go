package middleware

import (
	"context"

	"formio-api/internal/apperr"
	"formio-api/pkg/response"

	"github.com/gin-gonic/gin"
)

// SchemaChecker reports whether the database schema is usable.
type SchemaChecker interface {
	Check(ctx context.Context) error
}

// RequireSchema rejects requests while the schema is missing, locked by
// a migration, or at another version.
func RequireSchema(checker SchemaChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := checker.Check(c.Request.Context()); err != nil {
			status, _ := apperr.StatusOf(err)
			c.AbortWithStatusJSON(status, response.Error(status, apperr.Message(err)))
			return
		}
		c.Next()
	}
}

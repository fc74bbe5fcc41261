// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file gates the read-only admin endpoints behind a shared secret
// header. The comparison is constant-time; an empty configured token
// disables the check entirely (useful for local development only).
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderAdminToken is the shared-secret header expected on admin requests.
const HeaderAdminToken = "X-Admin-Token"

// AdminAuth returns a middleware that rejects requests whose X-Admin-Token
// header does not match token. When token is empty the middleware is a
// pass-through.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader(HeaderAdminToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "invalid admin token",
			})
			return
		}
		c.Next()
	}
}

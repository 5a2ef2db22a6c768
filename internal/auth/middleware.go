package auth

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/luminahq/research-server/internal/errors"
	"github.com/luminahq/research-server/internal/logger"
)

// Define a custom type for context keys to avoid collisions.
type contextKey string

const (
	// UserIDKey is the context key for the authenticated user ID.
	UserIDKey contextKey = "user_id"
)

// Middleware validates end-user bearer tokens.
type Middleware struct {
	secret []byte
}

// NewMiddleware creates an auth middleware with the given HMAC signing secret.
func NewMiddleware(secret string) *Middleware {
	return &Middleware{secret: []byte(secret)}
}

// RequireAuth validates the bearer token and attaches the user ID to the
// request context.
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")

		// Fallback for WebSocket connections: accept token from query
		// parameter, since the browser WebSocket API doesn't support custom
		// headers during upgrade.
		if authHeader == "" && c.Request.Header.Get("Upgrade") == "websocket" {
			if token := c.Query("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}

		if authHeader == "" {
			errors.AbortWithUnauthorized(c, "Authorization header is required", nil)
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			errors.AbortWithUnauthorized(c, "Authorization header must be a Bearer token", nil)
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			errors.AbortWithUnauthorized(c, "Bearer token is empty", nil)
			return
		}

		userID, err := m.validateToken(token)
		if err != nil {
			errors.AbortWithUnauthorized(c, "Invalid or expired token", nil)
			return
		}

		ctx := logger.WithUserID(c.Request.Context(), userID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(UserIDKey), userID)

		c.Next()
	}
}

// validateToken parses and verifies an HS256 token, returning the subject.
func (m *Middleware) validateToken(tokenString string) (string, error) {
	if len(m.secret) == 0 {
		return "", fmt.Errorf("no signing secret configured")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid token")
	}

	return claims.Subject, nil
}

// GetUserID extracts the authenticated user ID from the Gin context.
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(string(UserIDKey))
	if !exists {
		return "", false
	}

	id, ok := userID.(string)
	return id, ok
}

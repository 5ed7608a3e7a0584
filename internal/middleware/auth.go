package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/pkg/utils"
)

const (
	// AuthorizationHeader authorization header name
	AuthorizationHeader = "Authorization"
	// BearerPrefix bearer prefix
	BearerPrefix = "Bearer "
	// UserIDKey context key of the token subject
	UserIDKey = "user_id"
	// UserRoleKey context key of the role claim
	UserRoleKey = "user_role"
)

// TokenValidator resolves a bearer token to the caller
type TokenValidator func(token string) (*UserInfo, error)

// AuthConfig auth configuration
type AuthConfig struct {
	TokenValidator TokenValidator
	// SkipPaths paths served without a token
	SkipPaths []string
	// RequiredRole rejects callers with another role when set
	RequiredRole string
}

// UserInfo authenticated caller
type UserInfo struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Auth auth middleware
func Auth(validator TokenValidator) gin.HandlerFunc {
	return AuthWithConfig(AuthConfig{
		TokenValidator: validator,
	})
}

// AuthWithConfig auth middleware with configuration
func AuthWithConfig(config AuthConfig) gin.HandlerFunc {
	skipPaths := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		if skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			utils.Error(c, utils.CodeUnauthorized, "Missing or malformed authorization header")
			c.Abort()
			return
		}

		userInfo, err := config.TokenValidator(token)
		if err != nil {
			utils.Error(c, utils.CodeUnauthorized, "Invalid token")
			c.Abort()
			return
		}

		if config.RequiredRole != "" && userInfo.Role != config.RequiredRole {
			utils.Error(c, utils.CodeForbidden, "Insufficient permissions")
			c.Abort()
			return
		}

		c.Set(UserIDKey, userInfo.ID)
		c.Set(UserRoleKey, userInfo.Role)

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader(AuthorizationHeader)
	if !strings.HasPrefix(header, BearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
	return token, token != ""
}

// GetUserID returns the token subject
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// GetUserRole returns the role claim
func GetUserRole(c *gin.Context) (string, bool) {
	role, exists := c.Get(UserRoleKey)
	if !exists {
		return "", false
	}

	if roleStr, ok := role.(string); ok {
		return roleStr, true
	}
	return "", false
}

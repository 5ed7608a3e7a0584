package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/middleware"
	"storefront/internal/service/auth"
	"storefront/pkg/utils"
)

// AuthHandler authentication handler
type AuthHandler struct {
	authService auth.AuthService
}

// NewAuthHandler creates an authentication handler
func NewAuthHandler(authService auth.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Token exchanges the demo credentials for an access token
func (h *AuthHandler) Token(c *gin.Context) {
	var req auth.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, utils.CodeInvalidParam, "Invalid request body")
		return
	}

	resp, err := h.authService.IssueToken(c.Request.Context(), &req)
	if err != nil {
		utils.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Validator adapts the service to the auth middleware
func (h *AuthHandler) Validator() middleware.TokenValidator {
	return TokenValidator(h.authService)
}

// TokenValidator maps token claims onto the middleware caller
func TokenValidator(svc auth.AuthService) middleware.TokenValidator {
	return func(token string) (*middleware.UserInfo, error) {
		claims, err := svc.ValidateToken(context.Background(), token)
		if err != nil {
			return nil, err
		}
		return &middleware.UserInfo{ID: claims.Subject, Role: claims.Role}, nil
	}
}

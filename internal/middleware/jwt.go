package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/student-records-api/internal/models"
	"github.com/noah-isme/student-records-api/internal/service"
	appErrors "github.com/noah-isme/student-records-api/pkg/errors"
	"github.com/noah-isme/student-records-api/pkg/response"
)

// ContextUserKey is the gin context key storing the verified caller claims.
const ContextUserKey = "currentUser"

// JWT protects routes by requiring a valid bearer token issued by the identity provider.
func JWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrAuthRequired, "Authentication required"))
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrAuthRequired, "Invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// Caller returns the verified claims attached by JWT, or nil.
func Caller(c *gin.Context) *models.CallerClaims {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*models.CallerClaims)
	return claims
}

// CallerLogFields adds the caller id to request logs.
func CallerLogFields(c *gin.Context) []zap.Field {
	claims := Caller(c)
	if claims == nil {
		return nil
	}
	return []zap.Field{zap.String("caller_id", claims.CallerID())}
}

package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-records-api/internal/middleware"
)

// callerID returns the authenticated caller's subject, used for audit fields.
func callerID(c *gin.Context) string {
	if claims := middleware.Caller(c); claims != nil {
		return claims.CallerID()
	}
	return ""
}

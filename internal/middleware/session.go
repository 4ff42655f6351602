package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classworks/assess-backend/internal/response"
	"github.com/classworks/assess-backend/internal/service"
)

// CheckSingleDeviceLogin validates the JWT's JTI against the student's active
// login in Redis. A mismatched JTI means a newer login superseded this token.
func CheckSingleDeviceLogin(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		if err := authService.ValidateStudentLogin(c.Request.Context(), claims.StudentKey, claims.ID); err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
			return
		}

		c.Next()
	}
}

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/service"
)

// ContextKeyStudent is the Gin context key for the authenticated student.
const ContextKeyStudent = "student"

// RequireAuthenticated rejects requests unless a non-expired credential
// is stored. An expired credential is cleared by the check itself.
func RequireAuthenticated(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		student, err := authService.Authenticate(c.Request.Context())
		if err != nil {
			response.AbortErr(c, err)
			return
		}
		c.Set(ContextKeyStudent, student)
		c.Next()
	}
}

// GetStudent returns the student set by RequireAuthenticated.
func GetStudent(c *gin.Context) *model.StudentProfile {
	v, ok := c.Get(ContextKeyStudent)
	if !ok {
		return nil
	}
	student, _ := v.(*model.StudentProfile)
	return student
}

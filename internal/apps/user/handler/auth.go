package handler

import (
	"strings"

	"portal-auth/internal/apps/user/models"
	"portal-auth/internal/common/middleware"

	"github.com/gin-gonic/gin"
)

const callerKey = "caller"

// sessionID reads the session from "Authorization: Bearer <id>" or the X-Session-ID header
func sessionID(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(c.GetHeader(middleware.SessionHeader))
}

// RequireSession resolves the caller's profile from their session and aborts with 401 without one
func (h *UserHandler) RequireSession(c *gin.Context) {
	caller, err := h.service.Authenticate(c.Request.Context(), sessionID(c))
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Set(callerKey, caller)
	c.Next()
}

func callerFrom(c *gin.Context) *models.UserResponse {
	v, ok := c.Get(callerKey)
	if !ok {
		return nil
	}
	caller, _ := v.(*models.UserResponse)
	return caller
}

package handler

import "github.com/gin-gonic/gin"

// RegisterUserRoutes registers all user-related routes. Resolve carries its own
// session in the body; every other route needs the caller's session.
func RegisterUserRoutes(router *gin.RouterGroup, handler *UserHandler) {
	users := router.Group("/users")
	{
		users.POST("/resolve", handler.ResolveUser)

		authed := users.Group("", handler.RequireSession)
		authed.GET("/all", handler.ListAllUsers)
		authed.GET("/:id", handler.GetUser)
		authed.PUT("/:id", handler.UpdateUser)
	}
}

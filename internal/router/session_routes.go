package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterSessionRoutes 会话的创建、断开、查询
func (rt *Router) RegisterSessionRoutes(rg *gin.RouterGroup) {
	sessionGroup := rg.Group("/sessions")
	{
		sessionGroup.POST("/create", rt.handlers.Session.CreateSession)         // 创建会话
		sessionGroup.POST("/disconnect", rt.handlers.Session.DisconnectSession) // 断开会话
		sessionGroup.GET("/active", rt.handlers.Session.ActiveSessions)         // 集群在线会话
		sessionGroup.GET("/:sessionId", rt.handlers.Session.GetSession)         // 会话状态
	}
}

package router

import (
	"github.com/gin-gonic/gin"
)

func (rt *Router) RegisterMessageRoutes(rg *gin.RouterGroup) {
	messageGroup := rg.Group("/messages")
	{
		messageGroup.POST("/send", rt.handlers.Message.SendMessage) // 直接发送
	}
}

func (rt *Router) RegisterChatbotRoutes(rg *gin.RouterGroup) {
	rg.POST("/chatbots/invalidate", rt.handlers.Chatbot.Invalidate)
}

func (rt *Router) RegisterHealthRoutes(r *gin.Engine) {
	r.GET("/health", rt.handlers.Health.Health)
}

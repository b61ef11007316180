package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterWebSocketRoutes 控制台事件推送
// 请求示例: ws://host:port/ws/sessions?owner_id=U123&token=xxx
func (rt *Router) RegisterWebSocketRoutes(rg *gin.RouterGroup) {
	rg.GET("/sessions", rt.handlers.Ws.SessionEvents)
}

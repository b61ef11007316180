// Package router 提供 HTTP 路由注册
package router

import (
	"chatty_session_server/internal/handler"
	"chatty_session_server/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
)

// Router 持有 Handler 聚合，按模块注册路由
type Router struct {
	handlers *handler.Handlers
}

func NewRouter(handlers *handler.Handlers) *Router {
	return &Router{handlers: handlers}
}

// RegisterRoutes 注册所有路由，在 https_server.Init() 中调用
// /health 不需要认证，其余控制接口开启 JWT 后需要 Bearer Token
func (rt *Router) RegisterRoutes(r *gin.Engine) {
	rt.RegisterHealthRoutes(r)

	authed := r.Group("/", middleware.JWTAuth(false))
	rt.RegisterSessionRoutes(authed)
	rt.RegisterMessageRoutes(authed)
	rt.RegisterChatbotRoutes(authed)

	ws := r.Group("/ws", middleware.JWTAuth(true))
	rt.RegisterWebSocketRoutes(ws)
}

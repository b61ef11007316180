package handler

import (
	"net/http"

	"chatty_session_server/internal/dto/request"
	"chatty_session_server/internal/gateway/websocket"
	"chatty_session_server/internal/infrastructure/middleware"
	"chatty_session_server/pkg/errorx"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type WsHandler struct {
	hub *websocket.Hub
}

func NewWsHandler(hub *websocket.Hub) *WsHandler {
	return &WsHandler{hub: hub}
}

// SessionEvents 控制台订阅自己名下的会话事件
// GET /ws/sessions?owner_id=xxx[&token=xxx]
// 开启鉴权时 owner_id 必须与令牌一致
func (h *WsHandler) SessionEvents(c *gin.Context) {
	var req request.WsSessionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	if owner, ok := c.Get(middleware.ContextOwnerID); ok && owner != req.OwnerID {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Code:  errorx.CodeUnauthorized,
			Error: "owner_id does not match token",
		})
		return
	}
	// 升级失败时 upgrader 已写回错误响应
	if err := websocket.ServeClient(h.hub, c.Writer, c.Request, req.OwnerID); err != nil {
		zap.L().Warn("websocket upgrade failed", zap.String("owner_id", req.OwnerID), zap.Error(err))
	}
}

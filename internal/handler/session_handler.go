package handler

import (
	"chatty_session_server/internal/dto/request"
	"chatty_session_server/internal/dto/respond"
	"chatty_session_server/internal/service"

	"github.com/gin-gonic/gin"
)

// SessionHandler 会话请求处理器
type SessionHandler struct {
	sessionSvc service.SessionService
}

func NewSessionHandler(sessionSvc service.SessionService) *SessionHandler {
	return &SessionHandler{sessionSvc: sessionSvc}
}

// CreateSession 创建会话，同一 owner+tenant 的旧会话会被替换
// POST /sessions/create
// 请求体: request.CreateSessionRequest
// 响应: respond.CreateSessionRespond，配对结果通过 GET /sessions/:sessionId 或 websocket 获取
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req request.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	sessionID, err := h.sessionSvc.CreateSession(c.Request.Context(), req.OwnerID, req.TenantID)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, respond.CreateSessionRespond{SessionID: sessionID})
}

// DisconnectSession 注销并停止会话，重复调用同样返回成功
// POST /sessions/disconnect
func (h *SessionHandler) DisconnectSession(c *gin.Context) {
	var req request.DisconnectSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	if err := h.sessionSvc.Disconnect(c.Request.Context(), req.SessionID); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, respond.SuccessRespond{Success: true})
}

// GetSession GET /sessions/:sessionId
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.sessionSvc.Get(c.Param("sessionId"))
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, respond.NewSessionRespond(session))
}

// ActiveSessions GET /sessions/active
func (h *SessionHandler) ActiveSessions(c *gin.Context) {
	ids := h.sessionSvc.ActiveSessions(c.Request.Context())
	if ids == nil {
		ids = []string{}
	}
	HandleSuccess(c, respond.ActiveSessionsRespond{SessionIDs: ids, Count: len(ids)})
}

package handler

import (
	"net/http"
	"time"

	"chatty_session_server/internal/dto/respond"
	"chatty_session_server/internal/service"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	sessionSvc service.SessionService
	healthSvc  service.HealthService
}

func NewHealthHandler(sessionSvc service.SessionService, healthSvc service.HealthService) *HealthHandler {
	return &HealthHandler{sessionSvc: sessionSvc, healthSvc: healthSvc}
}

// Health GET /health
// 数据库不可用时返回 503，Redis 不可用只标记 degraded
func (h *HealthHandler) Health(c *gin.Context) {
	resp := respond.HealthRespond{
		Status:             "ok",
		ActiveSessionCount: h.sessionSvc.ActiveCount(),
		Timestamp:          time.Now().UTC(),
	}
	code := http.StatusOK
	if h.healthSvc != nil {
		resp.Dependencies = make(map[string]string)
		for name, err := range h.healthSvc.Check(c.Request.Context()) {
			if err == nil {
				resp.Dependencies[name] = "ok"
				continue
			}
			resp.Dependencies[name] = err.Error()
			if name == "store" {
				resp.Status = "unavailable"
				code = http.StatusServiceUnavailable
			} else if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}
	}
	c.JSON(code, resp)
}

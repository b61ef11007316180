package middleware

import (
	"net/http"
	"strings"

	"chatty_session_server/pkg/errorx"
	"chatty_session_server/pkg/util/jwt"

	"github.com/gin-gonic/gin"
)

// ContextOwnerID 鉴权通过后令牌里的 owner id
const ContextOwnerID = "owner_id"

// JWTAuth 验证 Access Token 并将 owner 存入上下文
// 未配置签名密钥时直接放行
// allowQuery 为 true 时接受 ?token=，浏览器建立 websocket 无法带 Header
func JWTAuth(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !jwt.Enabled() {
			c.Next()
			return
		}

		// 1. 取 Token
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok && allowQuery {
			token = c.Query("token")
			ok = token != ""
		}
		if !ok {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		// 2. 验证 Token
		claims, err := jwt.ParseToken(token)
		if err != nil {
			abortUnauthorized(c, "token expired or invalid")
			return
		}
		if claims.Subject != "access_token" {
			abortUnauthorized(c, "access token required")
			return
		}

		c.Set(ContextOwnerID, claims.OwnerID)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"code":    errorx.CodeUnauthorized,
		"error":   msg,
	})
}

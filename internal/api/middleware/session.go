package middleware

import (
	"net/http"
	"strings"

	"tasktracker/internal/pkg/metrics"
	"tasktracker/internal/pkg/token"

	"github.com/gin-gonic/gin"
)

// SessionCookie 是承载会话令牌的 Cookie 名称。
const SessionCookie = "session"

// LoginPath 是未认证页面请求的重定向目标。
const LoginPath = "/login"

// protectedPrefixes 是网关守卫的受保护路径前缀，未命中的路径直接放行。
var protectedPrefixes = []string{
	"/dashboard",
	"/api/tasks",
	"/tasks",
}

// Gatekeeper 在受保护路径上要求有效会话。
//
// 请求状态机只有两态：携带可验证会话令牌的请求原样放行；
// 令牌缺失、被篡改或过期的请求按路径类型收尾——
// API 路径返回 401 JSON，页面路径 307 重定向到登录页。
// 该中间件不触达任何业务服务，路由处理器仍会二次校验会话。
func Gatekeeper(codec *token.Codec) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isProtectedPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		tok, err := c.Cookie(SessionCookie)
		if err != nil || tok == "" {
			rejectUnauthenticated(c)
			return
		}
		if codec.Verify(tok) == nil {
			rejectUnauthenticated(c)
			return
		}

		c.Next()
	}
}

// RequireSession 再次校验会话令牌并把 userID 写入上下文。
//
// 网关守卫之外的第二道防线：处理器只信任这里解析出的身份，
// 绝不信任请求体里携带的用户 ID。
func RequireSession(codec *token.Codec) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := c.Cookie(SessionCookie)
		if err != nil || tok == "" {
			abortUnauthorizedJSON(c)
			return
		}

		claims := codec.Verify(tok)
		if claims == nil {
			abortUnauthorizedJSON(c)
			return
		}

		uid, ok := claims.UserID()
		if !ok {
			abortUnauthorizedJSON(c)
			return
		}

		c.Set("userID", int(uid))
		c.Next()
	}
}

func isProtectedPath(path string) bool {
	for _, prefix := range protectedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

func rejectUnauthenticated(c *gin.Context) {
	if metrics.UnauthorizedTotal != nil {
		metrics.UnauthorizedTotal.Inc()
	}
	if isAPIPath(c.Request.URL.Path) {
		abortUnauthorizedJSON(c)
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, LoginPath)
	c.Abort()
}

// isAPIPath 区分 JSON API 请求与页面请求。
// /tasks 由本服务直接提供 JSON API，与 /api 前缀同样按 API 处理；
// 页面路径（仪表盘等）由外部 UI 渲染，未认证时重定向到登录页。
func isAPIPath(path string) bool {
	if strings.HasPrefix(path, "/api/") {
		return true
	}
	return path == "/tasks" || strings.HasPrefix(path, "/tasks/")
}

func abortUnauthorizedJSON(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized. Please log in."})
}

package middleware

import (
	"net/http"
	"strings"

	"PPSignal/tools/errs"

	"github.com/gin-gonic/gin"
)

// Origin 只校验 wsPath 的握手请求；allowed 为空表示放行全部。不调用 c.Next，可挂在 MiddlewareManager 上。
// 支持精确匹配和 "*.example.com" 形式的子域通配。
func Origin(wsPath string, allowed []string) gin.HandlerFunc {
	exact := make(map[string]struct{}, len(allowed))
	var suffixes []string
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		switch {
		case a == "":
		case a == "*":
			return func(*gin.Context) {}
		case strings.HasPrefix(a, "*."):
			suffixes = append(suffixes, a[1:])
		default:
			exact[a] = struct{}{}
		}
	}
	if len(exact) == 0 && len(suffixes) == 0 {
		return func(*gin.Context) {}
	}

	match := func(origin string) bool {
		origin = strings.ToLower(origin)
		if _, ok := exact[origin]; ok {
			return true
		}
		host := origin
		if i := strings.Index(host, "://"); i >= 0 {
			host = host[i+3:]
		}
		if i := strings.LastIndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		for _, s := range suffixes {
			if strings.HasSuffix(host, s) {
				return true
			}
		}
		return false
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet && c.Request.URL.Path == wsPath {
			// 非浏览器客户端不带 Origin
			if o := c.GetHeader("Origin"); o != "" && !match(o) {
				ce := errs.ErrPermissionDenied.WithDetail("origin not allowed: " + o)
				c.AbortWithStatusJSON(http.StatusForbidden, ce)
			}
		}
	}
}

package middleware

import (
	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
}

// Routes 挂路由时按需插入鉴权中间件
type Routes struct {
	r    gin.IRoutes
	auth gin.HandlerFunc
}

func NewRoutes(r gin.IRoutes, auth gin.HandlerFunc) *Routes {
	return &Routes{r: r, auth: auth}
}

func (rs *Routes) chain(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if opt.IsAuth && rs.auth != nil {
		return []gin.HandlerFunc{rs.auth, handler}
	}
	return []gin.HandlerFunc{handler}
}

// 封装 POST
func (rs *Routes) POST(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rs.r.POST(path, rs.chain(handler, opt)...)
}

// 封装 GET
func (rs *Routes) GET(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rs.r.GET(path, rs.chain(handler, opt)...)
}

func (rs *Routes) DELETE(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rs.r.DELETE(path, rs.chain(handler, opt)...)
}

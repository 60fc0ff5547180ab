package security

import (
	"strings"

	"PPSignal/logger"
	"PPSignal/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// context key
// 后续模块统一用 UserID(c) 读取
const (
	PPCtxAuthKey   = "authorization" // string
	PPCtxUserIDKey = "user_id"       // int64
)

// Verifier 与 chat.Verifier 同形
type Verifier interface {
	Verify(token string) (int64, error)
}

type Options struct {
	// 读取哪个请求头
	HeaderToken               string // 默认 "authorization"
	EnableAuthorizationBearer bool   // 默认 true
	// 允许 ?token= 兜底（浏览器 WebSocket 无法带头）
	EnableQueryToken bool
}

func DefaultOptions() *Options {
	return &Options{
		HeaderToken:               PPCtxAuthKey,
		EnableAuthorizationBearer: true,
	}
}

// TokenFrom 按 Options 从请求取出令牌
func TokenFrom(c *gin.Context, opts *Options) string {
	raw := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
	// 兼容 Authorization: Bearer xxx
	if opts.EnableAuthorizationBearer && len(raw) > len("bearer ") && strings.EqualFold(raw[:len("bearer ")], "bearer ") {
		raw = strings.TrimSpace(raw[len("bearer "):])
	}
	if raw == "" && opts.EnableQueryToken {
		raw = strings.TrimSpace(c.Query("token"))
	}
	return raw
}

func Middleware(v Verifier, opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := TokenFrom(c, opts)
		if token == "" {
			Abort(c, errs.ErrAuthFailure.WrapMsg("missing token"))
			return
		}
		uid, err := v.Verify(token)
		if err != nil {
			logger.Debug("[auth] verify failed", zap.String("path", c.FullPath()), zap.Error(err))
			Abort(c, errs.ErrAuthFailure.WrapMsg("invalid token"))
			return
		}
		c.Set(PPCtxAuthKey, token)
		c.Set(PPCtxUserIDKey, uid)
		c.Next()
	}
}

// UserID 鉴权通过后的当前用户；未经过中间件时为 0
func UserID(c *gin.Context) int64 {
	return c.GetInt64(PPCtxUserIDKey)
}

// Abort 以 CodeError JSON 结束请求，状态码由错误码决定
func Abort(c *gin.Context, err error) {
	ce, ok := errs.As(err)
	if !ok {
		logger.Error("[http] internal error", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(errs.HTTPStatus(ce.Code), ce)
}

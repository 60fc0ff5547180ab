package natsx

import (
	"context"
	"time"

	"PPSignal/logger"
	"PPSignal/tools/errs"

	"go.uber.org/zap"
)

// Message 统一消息对象
type Message struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// Handler 业务处理函数
type Handler func(ctx context.Context, msg Message) error

// Middleware 中间件（日志、恢复等）
type Middleware func(Handler) Handler

// Chain 组合中间件
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recover 回调里的 panic 不拖垮连接
func Recover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errs.ErrPanic(r)
					logger.Error("[natsx] handler panic", zap.String("subject", msg.Subject), zap.Error(err))
				}
			}()
			return next(ctx, msg)
		}
	}
}

// Logging 记录失败与耗时
func Logging() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			start := time.Now()
			err := next(ctx, msg)
			if err != nil {
				logger.Warn("[natsx] handle failed", zap.String("subject", msg.Subject),
					zap.Duration("cost", time.Since(start)), zap.Error(err))
			}
			return err
		}
	}
}

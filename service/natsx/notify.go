package natsx

import (
	"context"
	"strings"
	"time"

	"PPSignal/logger"
	"PPSignal/service/chat"
	"PPSignal/tools/decode"
	"PPSignal/tools/errs"

	"go.uber.org/zap"
)

const headerMsgID = "Nats-Msg-Id"

// Envelope im.notify 上由其他服务投递的通知
type Envelope struct {
	ID   string         `json:"id"`
	To   []int64        `json:"to"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Fanner 由 chat.Router 实现
type Fanner interface {
	FanOut(ctx context.Context, users []int64, n chat.Notification) int
}

// NotifyBridge 订阅 im.notify 并投递给在线用户
type NotifyBridge struct {
	fan  Fanner
	idem IdemStore
	ttl  time.Duration
}

func NewNotifyBridge(fan Fanner, idem IdemStore) *NotifyBridge {
	if idem == nil {
		idem = NewMemIdem(5 * time.Minute)
	}
	return &NotifyBridge{fan: fan, idem: idem, ttl: 5 * time.Minute}
}

// Start 广播订阅：每个节点只推给自己的在线会话
func (b *NotifyBridge) Start(c *Client) error {
	return c.Subscribe(BizNotify, b.Handle)
}

func (b *NotifyBridge) Handle(ctx context.Context, msg Message) error {
	env, _, err := decode.DecodeJSON[Envelope](msg.Data)
	if err != nil {
		return errs.ErrProtocolMalformed.WrapMsg(err.Error())
	}
	env.Type = strings.TrimSpace(env.Type)
	if env.Type == "" || len(env.To) == 0 {
		return errs.ErrProtocolMalformed.WrapMsg("envelope needs type and recipients")
	}

	id := msg.Header[headerMsgID]
	if id == "" {
		id = env.ID
	}
	if id != "" {
		seen, err := b.idem.SeenOnce(id, b.ttl)
		if err == nil && seen {
			logger.Debug("[notify] duplicate dropped", zap.String("id", id))
			return nil
		}
	}

	n := chat.Notification{Type: env.Type}
	if env.Data != nil {
		n.Data = env.Data
	}
	delivered := b.fan.FanOut(ctx, env.To, n)
	logger.Debug("[notify] fanned out", zap.String("type", env.Type), zap.Int("to", len(env.To)), zap.Int("delivered", delivered))
	return nil
}

package natsx

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"PPSignal/tools/errs"
)

const (
	BizPresence = "presence"
	BizNotify   = "notify"

	SubjectPresence = "im.presence"
	SubjectNotify   = "im.notify"
)

type publisher interface {
	Publish(ctx context.Context, biz, suffix string, data []byte, hdr map[string]string) error
}

// PresenceEvent im.presence.<user> 的负载
type PresenceEvent struct {
	UserID int64     `json:"user_id"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
	Node   string    `json:"node,omitempty"`
}

// PresenceBus 把状态变化广播给其他服务
type PresenceBus struct {
	pub  publisher
	node string
}

func NewPresenceBus(pub publisher, node string) *PresenceBus {
	return &PresenceBus{pub: pub, node: node}
}

// RegisterRoutes 注册本服务用到的两条路由；im.notify 不用队列组，会话分散在各节点，每个节点都要收到
func RegisterRoutes(c *Client) error {
	if err := c.RegisterRoute(Route{Biz: BizPresence, Subject: SubjectPresence}); err != nil {
		return err
	}
	return c.RegisterRoute(Route{Biz: BizNotify, Subject: SubjectNotify})
}

func (b *PresenceBus) PublishPresence(ctx context.Context, user int64, status string, at time.Time) error {
	data, err := json.Marshal(PresenceEvent{UserID: user, Status: status, At: at.UTC(), Node: b.node})
	if err != nil {
		return errs.Wrap(err)
	}
	return b.pub.Publish(ctx, BizPresence, strconv.FormatInt(user, 10), data, nil)
}

package natsx

import (
	"context"

	"PPSignal/tools/errs"

	"github.com/nats-io/nats.go"
)

// Publish 按 Biz 路由发送；suffix 非空时追加到主题末尾
func (c *Client) Publish(ctx context.Context, biz, suffix string, data []byte, hdr map[string]string) error {
	r, ok := c.route(biz)
	if !ok {
		return errs.ErrInvalidArgument.WrapMsg("route not found", "biz", biz)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := r.Subject
	if suffix != "" {
		subject += "." + suffix
	}
	m := &nats.Msg{Subject: subject, Data: data}
	if len(hdr) > 0 {
		m.Header = nats.Header{}
		for k, v := range hdr {
			m.Header.Set(k, v)
		}
	}
	if err := c.nc.PublishMsg(m); err != nil {
		return errs.WrapMsg(err, "nats publish", "subject", subject)
	}
	return nil
}

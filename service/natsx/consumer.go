package natsx

import (
	"context"

	"PPSignal/tools/errs"

	"github.com/nats-io/nats.go"
)

// Subscribe Core 订阅，同组内用 Queue 分摊
func (c *Client) Subscribe(biz string, h Handler) error {
	r, ok := c.route(biz)
	if !ok {
		return errs.ErrInvalidArgument.WrapMsg("route not found", "biz", biz)
	}
	h = Chain(h, c.mws...)

	cb := func(m *nats.Msg) {
		_ = h(context.Background(), Message{
			Subject: m.Subject,
			Data:    append([]byte(nil), m.Data...),
			Header:  headerToMap(m.Header),
		})
	}
	var (
		sub *nats.Subscription
		err error
	)
	if r.Queue == "" {
		sub, err = c.nc.Subscribe(r.Subject, cb)
	} else {
		sub, err = c.nc.QueueSubscribe(r.Subject, r.Queue, cb)
	}
	if err != nil {
		return errs.WrapMsg(err, "nats subscribe", "subject", r.Subject)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
	c.mu.Lock()
	c.subs[biz] = sub
	c.mu.Unlock()
	return nil
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

package chat

import (
	"github.com/golang/glog"
)

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register 启动阶段注册，非并发安全
func (d *Dispatcher) Register(hs ...Handler) {
	for _, h := range hs {
		d.handlers[h.Type()] = h
	}
}

func (d *Dispatcher) GetHandler(typ string) Handler {
	h, ok := d.handlers[typ]
	if !ok {
		glog.Infof("no handler for type=%v", typ)
		return nil
	}
	return h
}

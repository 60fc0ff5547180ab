package natsx

import (
	"strings"
	"sync"
	"time"

	"PPSignal/tools/errs"

	"github.com/nats-io/nats.go"
)

// Route 路由配置（按 Biz 维度注册）
type Route struct {
	Biz     string
	Subject string
	Queue   string // 队列组；广播则置空
}

// Config 客户端配置；Servers 为空表示不启用
type Config struct {
	Servers       []string      `mapstructure:"servers"`
	Name          string        `mapstructure:"name"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

func (c Config) Enabled() bool { return len(c.Servers) > 0 }

// Client 统一客户端
type Client struct {
	nc  *nats.Conn
	mws []Middleware

	mu     sync.RWMutex
	routes map[string]Route              // biz -> route
	subs   map[string]*nats.Subscription // biz -> sub
}

// Connect 连接 NATS，断线无限重连
func Connect(cfg Config, mws ...Middleware) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errs.ErrInvalidArgument.WrapMsg("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.WrapMsg(err, "connect nats")
	}
	return NewClient(nc, mws...), nil
}

func NewClient(nc *nats.Conn, mws ...Middleware) *Client {
	return &Client{
		nc:     nc,
		mws:    mws,
		routes: make(map[string]Route),
		subs:   make(map[string]*nats.Subscription),
	}
}

// Close 优雅关闭
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for biz, sub := range c.subs {
		_ = sub.Drain()
		delete(c.subs, biz)
	}
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

// RegisterRoute 注册 Biz 路由
func (c *Client) RegisterRoute(r Route) error {
	if r.Biz == "" || r.Subject == "" {
		return errs.ErrInvalidArgument.WrapMsg("invalid route", "biz", r.Biz)
	}
	c.mu.Lock()
	c.routes[r.Biz] = r
	c.mu.Unlock()
	return nil
}

// route 查询已注册路由
func (c *Client) route(biz string) (Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[biz]
	return r, ok
}

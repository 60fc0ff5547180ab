package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"PPSignal/logger"
	"PPSignal/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnConf 单连接参数
type ConnConf struct {
	SendQueue  int           // 发送队列长度，满了视为发送失败
	WriteWait  time.Duration // 单次写超时
	PongWait   time.Duration // 读超时，收到 pong 续期
	PingPeriod time.Duration // 必须小于 PongWait
	ReadLimit  int64         // 单帧最大字节
}

func (c *ConnConf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
}

type outFrame struct {
	mt   int
	data []byte
}

// WsConn gorilla 连接 + 单写协程
type WsConn struct {
	ConnID string
	UserID int64

	conn   *websocket.Conn
	remote string
	conf   ConnConf

	send      chan outFrame
	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
}

var errConnClosed = errs.ErrDeliveryFailure.WithDetail("connection closed")

func NewWsConn(connID string, userID int64, ws *websocket.Conn, conf ConnConf) *WsConn {
	conf.norm()
	c := &WsConn{
		ConnID:  connID,
		UserID:  userID,
		conn:    ws,
		conf:    conf,
		send:    make(chan outFrame, conf.SendQueue),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if ra := ws.RemoteAddr(); ra != nil {
		c.remote = ra.String()
	}
	return c
}

// Start 设置读参数并启动写协程
func (c *WsConn) Start() {
	c.conn.SetReadLimit(c.conf.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	})
	go c.writeLoop()
}

func (c *WsConn) Send(n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return errs.WrapMsg(err, "marshal notification", "type", n.Type)
	}
	return c.enqueue(outFrame{mt: websocket.TextMessage, data: data})
}

func (c *WsConn) SendBinary(payload []byte) error {
	return c.enqueue(outFrame{mt: websocket.BinaryMessage, data: payload})
}

func (c *WsConn) enqueue(f outFrame) error {
	select {
	case <-c.done:
		return errConnClosed.Wrap()
	default:
	}
	select {
	case c.send <- f:
		return nil
	case <-c.done:
		return errConnClosed.Wrap()
	default:
		return errs.ErrDeliveryFailure.WrapMsg("send queue full", "conn", c.ConnID, "cap", cap(c.send))
	}
}

// Probe 直接写 ping 控制帧；gorilla 允许与写协程并发调用 WriteControl
func (c *WsConn) Probe(ctx context.Context) error {
	select {
	case <-c.done:
		return errConnClosed.Wrap()
	default:
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.conf.WriteWait)
	}
	if err := c.conn.WriteControl(websocket.PingMessage, []byte("probe"), deadline); err != nil {
		return errs.ErrDeliveryFailure.WrapMsg(err.Error(), "conn", c.ConnID)
	}
	return nil
}

// Read 只由读循环调用
func (c *WsConn) Read() (int, []byte, error) {
	return c.conn.ReadMessage()
}

// Close 幂等；真正的关闭帧和 socket 关闭由写协程完成
func (c *WsConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Wait 等写协程退出
func (c *WsConn) Wait() { <-c.stopped }

func (c *WsConn) Remote() string { return c.remote }

func (c *WsConn) writeLoop() {
	ticker := time.NewTicker(c.conf.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.conf.WriteWait))
		_ = c.conn.Close()
		close(c.stopped)
	}()

	for {
		select {
		case <-c.done:
			return
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.conf.WriteWait))
			if err := c.conn.WriteMessage(f.mt, f.data); err != nil {
				logger.Info("[WS] write err", zap.String("conn", c.ConnID), zap.Int64("user", c.UserID), zap.Error(err))
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.conf.WriteWait)); err != nil {
				logger.Info("[WS] ping err", zap.String("conn", c.ConnID), zap.Int64("user", c.UserID), zap.Error(err))
				_ = c.Close()
				return
			}
		}
	}
}

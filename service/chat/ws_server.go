package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"PPSignal/logger"
	"PPSignal/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// Verifier 把连接参数里的凭证解析为用户 ID
type Verifier interface {
	Verify(token string) (int64, error)
}

type VerifierFunc func(token string) (int64, error)

func (f VerifierFunc) Verify(token string) (int64, error) { return f(token) }

// ServerConf 信令服务参数
type ServerConf struct {
	Conn        ConnConf
	FrameRate   int           // 每连接每秒文本帧上限，<=0 不限
	RingTimeout time.Duration // <=0 关闭振铃超时
	OpTimeout   time.Duration // 连接建立/清理阶段外部调用的超时
	NodeID      int64
}

type ServerOption func(*Server)

func WithAuditor(a SessionAuditor) ServerOption {
	return func(s *Server) { s.audit = a }
}

func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

func WithDispatcher(d *Dispatcher) ServerOption {
	return func(s *Server) { s.disp = d }
}

// Server 信令入口：鉴权、注册、读循环、清理
type Server struct {
	reg      *Registry
	calls    *CallCoordinator
	ringer   *Ringer
	router   *Router
	disp     *Dispatcher
	verifier Verifier
	audit    SessionAuditor
	metrics  *Metrics
	conf     ServerConf
	ids      *ids.Generator
	upgrader websocket.Upgrader
}

const authFailedReason = "authentication failed"

func NewServer(conf ServerConf, router *Router, calls *CallCoordinator, verifier Verifier, opts ...ServerOption) *Server {
	if conf.OpTimeout <= 0 {
		conf.OpTimeout = 5 * time.Second
	}
	s := &Server{
		reg:      router.Registry(),
		calls:    calls,
		router:   router,
		disp:     NewDispatcher(),
		verifier: verifier,
		audit:    nopAuditor{},
		conf:     conf,
		ids:      ids.NewGenerator(conf.NodeID),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.ringer = NewRinger(conf.RingTimeout, s.onRingTimeout)
	s.reg.OnEvict(func(sess *Session, reason string) {
		event := EventEvict
		if reason == ReasonReplaced {
			event = EventReplace
		}
		// 会话一离开注册表就结束它的通话和振铃：被顶替时新连接并不知道旧通话，
		// 被驱逐后用户可能赶在读循环退出前重连。下线仍由 cleanup 决定
		s.endCalls(sess.UserID)
		s.audit.Record(context.Background(), sessionEvent(sess, event, reason))
	})
	return s
}

func (s *Server) Registry() *Registry      { return s.reg }
func (s *Server) Calls() *CallCoordinator { return s.calls }
func (s *Server) Ringer() *Ringer         { return s.ringer }
func (s *Server) Router() *Router         { return s.router }
func (s *Server) Disp() *Dispatcher       { return s.disp }

// Close 停止振铃计时并关闭所有会话
func (s *Server) Close() {
	s.ringer.Close()
	s.reg.Close()
}

// HandleWS GET /ws?token=...
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Info("[HandleWS] upgrade websocket error", zap.Error(err))
		return
	}

	userID, err := s.verifier.Verify(c.Query("token"))
	if err != nil {
		logger.Info("[HandleWS] auth failed", zap.String("remote", ws.RemoteAddr().String()), zap.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, authFailedReason),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}

	wc := NewWsConn(s.ids.NextString(), userID, ws, s.conf.Conn)
	wc.Start()
	s.Serve(context.WithoutCancel(c.Request.Context()), wc)
	wc.Wait()
}

// Serve 注册会话并运行读循环，返回前完成清理
func (s *Server) Serve(ctx context.Context, wc *WsConn) {
	sess := s.reg.Register(wc.UserID, wc.ConnID, wc)
	s.metrics.connected()
	s.audit.Record(ctx, sessionEvent(sess, EventRegister, ""))
	logger.Info("[WS] connected", zap.Int64("user", sess.UserID), zap.String("conn", sess.ConnID), zap.String("remote", wc.Remote()))

	s.start(ctx, sess)
	reason := s.readLoop(ctx, sess, wc)
	s.cleanup(sess, reason)
}

func (s *Server) start(ctx context.Context, sess *Session) {
	opCtx, cancel := context.WithTimeout(ctx, s.conf.OpTimeout)
	defer cancel()

	s.reg.SendTo(sess, Connected(sess.UserID, sess.ConnID))

	online, err := s.router.OnlineContacts(opCtx, sess.UserID)
	if err != nil {
		logger.Warn("[WS] online contacts failed", zap.Int64("user", sess.UserID), zap.Error(err))
	}
	s.reg.SendTo(sess, OnlineUsers(online))

	if err := s.router.NotifyPresenceChange(opCtx, sess.UserID, StatusOnline); err != nil {
		logger.Warn("[WS] presence online failed", zap.Int64("user", sess.UserID), zap.Error(err))
	}
}

func (s *Server) readLoop(ctx context.Context, sess *Session, wc *WsConn) string {
	limiter := ratelimit.NewUnlimited()
	if s.conf.FrameRate > 0 {
		limiter = ratelimit.New(s.conf.FrameRate)
	}
	hctx := &Context{Context: ctx, S: s, Session: sess}

	// 读循环：只读；写由 WsConn 的写协程负责
	for {
		mt, data, err := wc.Read()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Info("[WS] peer closed", zap.String("conn", wc.ConnID), zap.Error(err))
				return "peer_closed"
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Info("[WS] read timeout", zap.String("conn", wc.ConnID), zap.Error(err))
				return "read_timeout"
			}
			logger.Info("[WS] read err", zap.String("conn", wc.ConnID), zap.Error(err))
			return "read_error"
		}

		switch mt {
		case websocket.BinaryMessage:
			// 媒体流：通话中原样转发，否则丢弃
			if peer, ok := s.calls.Peer(sess.UserID); ok {
				s.reg.SendBinary(peer, data)
			}
		case websocket.TextMessage:
			limiter.Take()
			s.handleText(hctx, data)
		}
	}
}

func (s *Server) handleText(ctx *Context, data []byte) {
	f, err := ParseFrame(data)
	if err != nil {
		// 只打印简短样本
		sample := data
		if len(sample) > 256 {
			sample = sample[:256]
		}
		logger.Warn("[WS] malformed frame", zap.String("conn", ctx.Session.ConnID),
			zap.ByteString("sample", sample), zap.Int("len", len(data)), zap.Error(err))
		s.metrics.frame("malformed")
		return
	}

	h := s.disp.GetHandler(f.Type)
	if h == nil {
		s.metrics.frame("unknown")
		return
	}
	s.metrics.frame(f.Type)
	if err := h.Handle(ctx, f); err != nil {
		logger.Warn("[WS] handler error", zap.String("type", f.Type), zap.Int64("user", ctx.UserID()), zap.Error(err))
	}
}

// cleanup 连接结束时总会执行；被新连接顶替的旧连接只关闭自己，通话已在顶替时结束
func (s *Server) cleanup(sess *Session, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.conf.OpTimeout)
	defer cancel()
	defer func() { _ = sess.Channel.Close() }()

	s.reg.Release(sess)
	if s.reg.Superseded(sess) {
		logger.Info("[WS] replaced connection closed", zap.Int64("user", sess.UserID), zap.String("conn", sess.ConnID))
		s.audit.Record(ctx, sessionEvent(sess, EventDisconnect, ReasonReplaced))
		return
	}

	uid := sess.UserID
	s.endCalls(uid)
	if _, err := s.router.NotifyOffline(ctx, uid); err != nil {
		logger.Warn("[WS] presence offline failed", zap.Int64("user", uid), zap.Error(err))
	}
	s.audit.Record(ctx, sessionEvent(sess, EventDisconnect, reason))
	logger.Info("[WS] disconnected", zap.Int64("user", uid), zap.String("conn", sess.ConnID), zap.String("reason", reason))
}

// endCalls 结束 uid 的通话并通知对端，清掉与 uid 相关的振铃
func (s *Server) endCalls(uid int64) {
	if peer, ok := s.calls.End(uid); ok {
		s.reg.Send(peer, CallEnded(ReasonPeerDisconnected))
	}
	for _, r := range s.ringer.ClearUser(uid) {
		if r.Caller == uid {
			s.reg.Send(r.Callee, CallCancelled(ReasonPeerDisconnected))
		} else {
			s.reg.Send(r.Caller, CallFailed(ReasonPeerDisconnected))
		}
	}
}

// SettleRings a、b 接通后清掉两人的全部振铃：两人之间的静默清除，
// 第三方主叫收到 busy，第三方被叫收到 cancelled
func (s *Server) SettleRings(a, b int64) {
	pair := func(u int64) bool { return u == a || u == b }
	for _, u := range []int64{a, b} {
		for _, r := range s.ringer.ClearUser(u) {
			switch {
			case pair(r.Caller) && pair(r.Callee):
			case pair(r.Callee):
				s.reg.Send(r.Caller, CallBusy(ReasonPeerBusy))
			default:
				s.reg.Send(r.Callee, CallCancelled(ReasonCancelledByPeer))
			}
		}
	}
}

// onRingTimeout 已在通话中的一方不再打扰
func (s *Server) onRingTimeout(r Ring) {
	logger.Info("[call] ring timeout", zap.Int64("caller", r.Caller), zap.Int64("callee", r.Callee))
	if !s.calls.InCall(r.Callee) {
		s.reg.Send(r.Callee, CallCancelled(ReasonRingTimeout))
	}
	if !s.calls.InCall(r.Caller) {
		s.reg.Send(r.Caller, CallFailed(ReasonNoAnswer))
	}
}

package handlers

import (
	"PPSignal/logger"
	"PPSignal/service/chat"
	"PPSignal/tools/errs"

	"go.uber.org/zap"
)

// CallRequestHandler voice_call_request：主叫发起
type CallRequestHandler struct{}

func (h *CallRequestHandler) Type() string { return chat.FrameCallReq }

func (h *CallRequestHandler) Handle(ctx *chat.Context, f *chat.Frame) error {
	s := ctx.S
	caller, callee := ctx.UserID(), f.ToUserID
	if callee <= 0 || callee == caller {
		ctx.Reply(chat.CallFailed(chat.ReasonInvalidTarget))
		return errs.ErrInvalidArgument.WrapMsg("bad call target", "caller", caller, "callee", callee)
	}
	if !s.Registry().IsOnline(callee) {
		ctx.Reply(chat.CallFailed(chat.ReasonCalleeOffline))
		return nil
	}
	if s.Calls().InCall(caller) {
		ctx.Reply(chat.CallFailed(chat.ReasonSelfInCall))
		return nil
	}
	if s.Calls().InCall(callee) {
		ctx.Reply(chat.CallBusy(chat.ReasonPeerBusy))
		return nil
	}
	// 先登记振铃：被叫可能在通知送达后立刻接听
	s.Ringer().Start(caller, callee)
	if !s.Registry().Send(callee, chat.CallIncoming(caller, f.CallerName, f.CallerAvatar)) {
		// 发送失败即视为对方已离线
		s.Ringer().Stop(caller, callee)
		ctx.Reply(chat.CallFailed(chat.ReasonCalleeOffline))
		return nil
	}
	logger.Debug("[call] ringing", zap.Int64("caller", caller), zap.Int64("callee", callee))
	return nil
}

// CallAcceptHandler voice_call_accept：被叫接听
type CallAcceptHandler struct{}

func (h *CallAcceptHandler) Type() string { return chat.FrameCallAccept }

func (h *CallAcceptHandler) Handle(ctx *chat.Context, f *chat.Frame) error {
	s := ctx.S
	callee, caller := ctx.UserID(), f.CallerID
	s.Ringer().Stop(caller, callee)

	if caller <= 0 || caller == callee {
		ctx.Reply(chat.CallFailed(chat.ReasonInvalidTarget))
		return errs.ErrInvalidArgument.WrapMsg("bad caller", "caller", caller, "callee", callee)
	}
	if !s.Registry().IsOnline(caller) {
		ctx.Reply(chat.CallFailed(chat.ReasonCallerOffline))
		return nil
	}
	if err := s.Calls().Link(caller, callee); err != nil {
		// 主叫可能已接了别人的电话
		reason := chat.ReasonCallerBusy
		if s.Calls().InCall(callee) {
			reason = chat.ReasonSelfInCall
		}
		ctx.Reply(chat.CallFailed(reason))
		return err
	}
	s.SettleRings(caller, callee)
	if !s.Registry().Send(caller, chat.CallConnected(callee, f.ReceiverName, f.ReceiverAvatar)) {
		// 主叫刚好掉线：发送失败的驱逐已拆掉通话并通知被叫；主叫已不在注册表时由这里拆
		if _, ok := s.Calls().End(callee); ok {
			ctx.Reply(chat.CallFailed(chat.ReasonCallerOffline))
		}
		return nil
	}
	ctx.Reply(chat.CallConnected(caller, "", ""))
	logger.Info("[call] connected", zap.Int64("caller", caller), zap.Int64("callee", callee))
	return nil
}

// CallRejectHandler voice_call_reject：被叫拒绝
type CallRejectHandler struct{}

func (h *CallRejectHandler) Type() string { return chat.FrameCallReject }

func (h *CallRejectHandler) Handle(ctx *chat.Context, f *chat.Frame) error {
	if f.CallerID <= 0 {
		return errs.ErrInvalidArgument.WrapMsg("missing caller_id")
	}
	ctx.S.Ringer().Stop(f.CallerID, ctx.UserID())
	ctx.S.Registry().Send(f.CallerID, chat.CallRejected(chat.ReasonDeclined))
	return nil
}

// CallCancelHandler voice_call_cancel：主叫在振铃中取消
type CallCancelHandler struct{}

func (h *CallCancelHandler) Type() string { return chat.FrameCallCancel }

func (h *CallCancelHandler) Handle(ctx *chat.Context, f *chat.Frame) error {
	if f.ReceiverID <= 0 {
		return errs.ErrInvalidArgument.WrapMsg("missing receiver_id")
	}
	ctx.S.Ringer().Stop(ctx.UserID(), f.ReceiverID)
	ctx.S.Registry().Send(f.ReceiverID, chat.CallCancelled(chat.ReasonCancelledByPeer))
	return nil
}

// CallHangupHandler voice_call_hangup：任意一方挂断
type CallHangupHandler struct{}

func (h *CallHangupHandler) Type() string { return chat.FrameCallHangup }

func (h *CallHangupHandler) Handle(ctx *chat.Context, _ *chat.Frame) error {
	peer, ok := ctx.S.Calls().End(ctx.UserID())
	if !ok {
		return nil
	}
	ctx.S.Registry().Send(peer, chat.CallEnded(chat.ReasonHangup))
	logger.Info("[call] ended", zap.Int64("user", ctx.UserID()), zap.Int64("peer", peer))
	return nil
}

// All 注册全部信令处理器
func All() []chat.Handler {
	return []chat.Handler{
		NewPingHandler(),
		&CallRequestHandler{},
		&CallAcceptHandler{},
		&CallRejectHandler{},
		&CallCancelHandler{},
		&CallHangupHandler{},
	}
}

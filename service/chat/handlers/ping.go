package handlers

import (
	"PPSignal/service/chat"
)

// PingHandler 应用层心跳，原样回带 timestamp
type PingHandler struct{}

func NewPingHandler() chat.Handler { return &PingHandler{} }

func (h *PingHandler) Type() string { return chat.FramePing }

func (h *PingHandler) Handle(ctx *chat.Context, f *chat.Frame) error {
	ctx.Reply(chat.Pong(f.Timestamp))
	return nil
}

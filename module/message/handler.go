package message

import (
	"net/http"
	"strconv"

	"PPSignal/middleware"
	"PPSignal/middleware/security"
	"PPSignal/tools/errs"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register 全部路由都需要鉴权
func (h *Handler) Register(rs *middleware.Routes) {
	auth := middleware.RouteOpt{IsAuth: true}

	rs.POST("/api/messages/send", h.SendDirect, auth)
	rs.GET("/api/messages/history/:peer", h.DirectHistory, auth)
	rs.POST("/api/messages/read/:peer", h.MarkDirectRead, auth)
	rs.GET("/api/messages/unread", h.UnreadSummary, auth)
	rs.GET("/api/messages/unread/:peer", h.UnreadFrom, auth)
	rs.DELETE("/api/messages/:id", h.Recall, auth)

	rs.POST("/api/groups/:group/messages", h.SendGroup, auth)
	rs.GET("/api/groups/:group/messages", h.GroupHistory, auth)
	rs.POST("/api/groups/:group/read", h.MarkGroupRead, auth)
	rs.GET("/api/groups/:group/unread", h.UnreadGroup, auth)
}

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.ErrInvalidArgument.WrapMsg("bad path id", name, c.Param(name))
	}
	return id, nil
}

type pageQuery struct {
	LastID *int64 `form:"last_id"`
	Limit  int    `form:"limit"`
}

func (h *Handler) history(c *gin.Context, t Target) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		security.Abort(c, errs.ErrInvalidArgument.WrapMsg(err.Error()))
		return
	}
	page, err := h.svc.GetPage(c.Request.Context(), security.UserID(c), t, q.LastID, q.Limit)
	if err != nil {
		security.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) DirectHistory(c *gin.Context) {
	peer, err := pathID(c, "peer")
	if err != nil {
		security.Abort(c, err)
		return
	}
	h.history(c, Direct(peer))
}

func (h *Handler) GroupHistory(c *gin.Context) {
	group, err := pathID(c, "group")
	if err != nil {
		security.Abort(c, err)
		return
	}
	h.history(c, Group(group))
}

type sendReq struct {
	ReceiverID int64   `json:"receiver_id"`
	Content    string  `json:"content"`
	MsgType    MsgType `json:"msg_type"`
}

func (h *Handler) SendDirect(c *gin.Context) {
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		security.Abort(c, errs.ErrInvalidArgument.WrapMsg(err.Error()))
		return
	}
	m, err := h.svc.SendDirect(c.Request.Context(), security.UserID(c), req.ReceiverID, req.Content, req.MsgType)
	if err != nil {
		security.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) SendGroup(c *gin.Context) {
	group, err := pathID(c, "group")
	if err != nil {
		security.Abort(c, err)
		return
	}
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		security.Abort(c, errs.ErrInvalidArgument.WrapMsg(err.Error()))
		return
	}
	m, err := h.svc.SendGroup(c.Request.Context(), security.UserID(c), group, req.Content, req.MsgType)
	if err != nil {
		security.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) markRead(c *gin.Context, t Target) {
	n, err := h.svc.MarkRead(c.Request.Context(), security.UserID(c), t)
	if err != nil {
		security.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated_count": n})
}

func (h *Handler) MarkDirectRead(c *gin.Context) {
	peer, err := pathID(c, "peer")
	if err != nil {
		security.Abort(c, err)
		return
	}
	h.markRead(c, Direct(peer))
}

func (h *Handler) MarkGroupRead(c *gin.Context) {
	group, err := pathID(c, "group")
	if err != nil {
		security.Abort(c, err)
		return
	}
	h.markRead(c, Group(group))
}

func (h *Handler) UnreadSummary(c *gin.Context) {
	total, by, err := h.svc.UnreadSummary(c.Request.Context(), security.UserID(c))
	if err != nil {
		security.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "by_user": by})
}

func (h *Handler) UnreadFrom(c *gin.Context) {
	peer, err := pathID(c, "peer")
	if err != nil {
		security.Abort(c, err)
		return
	}
	n, err := h.svc.UnreadFrom(c.Request.Context(), security.UserID(c), peer)
	if err != nil {
		security.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer_user_id": peer, "unread_count": n})
}

func (h *Handler) UnreadGroup(c *gin.Context) {
	group, err := pathID(c, "group")
	if err != nil {
		security.Abort(c, err)
		return
	}
	n, err := h.svc.UnreadGroup(c.Request.Context(), security.UserID(c), group)
	if err != nil {
		security.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group_id": group, "unread_count": n})
}

func (h *Handler) Recall(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		security.Abort(c, err)
		return
	}
	if _, err := h.svc.Recall(c.Request.Context(), id, security.UserID(c)); err != nil {
		security.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": id})
}

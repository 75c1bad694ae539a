package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"predmarket/internal/service"
)

type WorkerHandler struct {
	Heartbeats *service.HeartbeatService
}

func (h *WorkerHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/workers")
	group.GET("", h.overview)
	group.GET("/:workerType", h.detail)
	group.PATCH("/:workerType", h.setEnabled)
	group.POST("/:workerType/heartbeat", h.heartbeat)
}

func (h *WorkerHandler) overview(c *gin.Context) {
	if h.Heartbeats == nil {
		Fail(c, http.StatusServiceUnavailable, string(service.CodeInternal), "monitor disabled")
		return
	}
	stages, err := h.Heartbeats.Overview(c.Request.Context())
	if err != nil {
		FailErr(c, err)
		return
	}
	Ok(c, stages)
}

func (h *WorkerHandler) detail(c *gin.Context) {
	if h.Heartbeats == nil {
		Fail(c, http.StatusServiceUnavailable, string(service.CodeInternal), "monitor disabled")
		return
	}
	detail, err := h.Heartbeats.Detail(c.Request.Context(), c.Param("workerType"))
	if err != nil {
		FailErr(c, err)
		return
	}
	Ok(c, detail)
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *WorkerHandler) setEnabled(c *gin.Context) {
	if h.Heartbeats == nil {
		Fail(c, http.StatusServiceUnavailable, string(service.CodeInternal), "monitor disabled")
		return
	}
	var req setEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		Fail(c, http.StatusBadRequest, string(service.CodeValidation), "enabled (boolean) is required")
		return
	}
	cfg, err := h.Heartbeats.SetEnabled(c.Request.Context(), c.Param("workerType"), *req.Enabled, actorFrom(c))
	if err != nil {
		FailErr(c, err)
		return
	}
	Ok(c, cfg)
}

func (h *WorkerHandler) heartbeat(c *gin.Context) {
	if h.Heartbeats == nil {
		Fail(c, http.StatusServiceUnavailable, string(service.CodeInternal), "monitor disabled")
		return
	}
	var req service.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, string(service.CodeValidation), "invalid body")
		return
	}
	ack, err := h.Heartbeats.Record(c.Request.Context(), c.Param("workerType"), req)
	if err != nil {
		FailErr(c, err)
		return
	}
	Ok(c, ack)
}

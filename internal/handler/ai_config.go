package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"predmarket/internal/service"
)

type AIConfigHandler struct {
	Config *service.ConfigService
}

func (h *AIConfigHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/ai-config")
	group.GET("", h.get)
	group.PATCH("", h.patch)
}

func (h *AIConfigHandler) get(c *gin.Context) {
	if h.Config == nil {
		Fail(c, http.StatusServiceUnavailable, string(service.CodeInternal), "config disabled")
		return
	}
	Ok(c, h.Config.Get(c.Request.Context()))
}

func (h *AIConfigHandler) patch(c *gin.Context) {
	if h.Config == nil {
		Fail(c, http.StatusServiceUnavailable, string(service.CodeInternal), "config disabled")
		return
	}
	var updates map[string]any
	if err := c.ShouldBindJSON(&updates); err != nil {
		Fail(c, http.StatusBadRequest, string(service.CodeValidation), "invalid body")
		return
	}
	cfg, err := h.Config.Update(c.Request.Context(), updates, actorFrom(c))
	if err != nil {
		FailErr(c, err)
		return
	}
	Ok(c, cfg)
}

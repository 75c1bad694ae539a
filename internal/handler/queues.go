package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"predmarket/internal/broker"
	"predmarket/internal/service"
)

type QueueHandler struct {
	Broker *broker.Broker
}

func (h *QueueHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/queues", h.stats)
}

func (h *QueueHandler) stats(c *gin.Context) {
	if h.Broker == nil {
		Fail(c, http.StatusServiceUnavailable, string(service.CodeInternal), "broker disabled")
		return
	}
	stats, err := h.Broker.QueueStats(c.Request.Context())
	if err != nil {
		Fail(c, http.StatusBadGateway, string(service.CodeInternal), err.Error())
		return
	}
	Ok(c, stats)
}

package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"predmarket/internal/lifecycle"
	"predmarket/internal/repository"
	"predmarket/internal/service"
)

type DisputeHandler struct {
	Repo     repository.Repository
	Disputes *service.DisputeService
}

func (h *DisputeHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/disputes")
	group.GET("", h.list)
	group.GET("/:id", h.get)
	group.POST("", h.open)
	group.POST("/:id/review", h.review)
}

func (h *DisputeHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Fail(c, http.StatusInternalServerError, string(service.CodeInternal), "repo unavailable")
		return
	}
	var statusPtr *string
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		if !lifecycle.DisputeStatus(status).Valid() {
			Fail(c, http.StatusBadRequest, string(service.CodeValidation), "unknown dispute status "+strconv.Quote(status))
			return
		}
		statusPtr = &status
	}
	limit := intQuery(c, "limit", 20)
	if limit < 1 {
		limit = 20
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	items, err := h.Repo.ListDisputes(c.Request.Context(), repository.ListDisputesParams{
		Limit:  limit,
		Offset: intQuery(c, "offset", 0),
		Status: statusPtr,
	})
	if err != nil {
		FailErr(c, err)
		return
	}
	Ok(c, items)
}

func (h *DisputeHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Fail(c, http.StatusInternalServerError, string(service.CodeInternal), "repo unavailable")
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Fail(c, http.StatusBadRequest, string(service.CodeValidation), "dispute id must be numeric")
		return
	}
	dispute, err := h.Repo.GetDisputeByID(c.Request.Context(), id)
	if err != nil {
		FailErr(c, err)
		return
	}
	if dispute == nil {
		Fail(c, http.StatusNotFound, string(service.CodeNotFound), "dispute not found")
		return
	}
	Ok(c, dispute)
}

func (h *DisputeHandler) open(c *gin.Context) {
	if h.Disputes == nil {
		Fail(c, http.StatusServiceUnavailable, string(service.CodeInternal), "disputes disabled")
		return
	}
	var req service.OpenDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, string(service.CodeValidation), "invalid body")
		return
	}
	req.Disputant = submitterFrom(c)
	dispute, err := h.Disputes.OpenDispute(c.Request.Context(), req)
	if err != nil {
		FailErr(c, err)
		return
	}
	Ok(c, dispute)
}

func (h *DisputeHandler) review(c *gin.Context) {
	if h.Disputes == nil {
		Fail(c, http.StatusServiceUnavailable, string(service.CodeInternal), "disputes disabled")
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Fail(c, http.StatusBadRequest, string(service.CodeValidation), "dispute id must be numeric")
		return
	}
	var req service.ReviewDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, string(service.CodeValidation), "invalid body")
		return
	}
	req.Actor = actorFrom(c)
	dispute, err := h.Disputes.ReviewDispute(c.Request.Context(), id, req)
	if err != nil {
		FailErr(c, err)
		return
	}
	Ok(c, dispute)
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"predmarket/internal/repository"
	"predmarket/internal/service"
)

// AuditLogHandler serves the append-only admin action trail.
type AuditLogHandler struct {
	Repo repository.Repository
}

func (h *AuditLogHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/audit-logs", h.list)
}

func (h *AuditLogHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Fail(c, http.StatusInternalServerError, string(service.CodeInternal), "repo unavailable")
		return
	}
	limit := intQuery(c, "limit", 50)
	if limit < 1 {
		limit = 50
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	items, err := h.Repo.ListAuditLogs(c.Request.Context(), repository.ListAuditLogsParams{
		Limit:      limit,
		Offset:     intQuery(c, "offset", 0),
		Action:     strQueryPtr(c, "action"),
		EntityType: strQueryPtr(c, "entity_type"),
		EntityID:   strQueryPtr(c, "entity_id"),
	})
	if err != nil {
		FailErr(c, err)
		return
	}
	Ok(c, items)
}

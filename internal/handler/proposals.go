package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"predmarket/internal/lifecycle"
	"predmarket/internal/models"
	"predmarket/internal/repository"
	"predmarket/internal/service"
)

const maxPageSize = 100

type ProposalHandler struct {
	Repo      repository.Repository
	Review    *service.ReviewService
	Proposals *service.ProposalService
}

func (h *ProposalHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/proposals")
	group.GET("", h.list)
	group.GET("/:id", h.get)
	group.POST("", h.submit)
	group.POST("/:id/review", h.review)
}

type proposalPage struct {
	Items      []models.Proposal `json:"items"`
	NextCursor *uint64           `json:"next_cursor,omitempty"`
}

func (h *ProposalHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Fail(c, http.StatusInternalServerError, string(service.CodeInternal), "repo unavailable")
		return
	}
	status := strings.TrimSpace(c.Query("status"))
	if status == "" {
		status = string(lifecycle.ProposalNeedsHuman)
	}
	if !lifecycle.ProposalStatus(status).Valid() {
		Fail(c, http.StatusBadRequest, string(service.CodeValidation), "unknown proposal status "+strconv.Quote(status))
		return
	}
	limit := intQuery(c, "limit", 20)
	if limit < 1 {
		limit = 20
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	items, err := h.Repo.ListProposals(c.Request.Context(), repository.ListProposalsParams{
		Limit:  limit + 1,
		Cursor: uintQueryPtr(c, "cursor"),
		Status: &status,
	})
	if err != nil {
		FailErr(c, err)
		return
	}
	page := proposalPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		next := page.Items[limit-1].ID
		page.NextCursor = &next
	}
	Ok(c, page)
}

type proposalDetail struct {
	models.Proposal
	DraftMarket *models.Market `json:"draft_market,omitempty"`
}

func (h *ProposalHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Fail(c, http.StatusInternalServerError, string(service.CodeInternal), "repo unavailable")
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Fail(c, http.StatusBadRequest, string(service.CodeValidation), "proposal id must be numeric")
		return
	}
	proposal, err := h.Repo.GetProposalByID(c.Request.Context(), id)
	if err != nil {
		FailErr(c, err)
		return
	}
	if proposal == nil {
		Fail(c, http.StatusNotFound, string(service.CodeNotFound), "proposal not found")
		return
	}
	detail := proposalDetail{Proposal: *proposal}
	if proposal.DraftMarketID != nil {
		market, err := h.Repo.GetMarketByID(c.Request.Context(), *proposal.DraftMarketID)
		if err != nil {
			FailErr(c, err)
			return
		}
		detail.DraftMarket = market
	}
	Ok(c, detail)
}

func (h *ProposalHandler) submit(c *gin.Context) {
	if h.Proposals == nil {
		Fail(c, http.StatusServiceUnavailable, string(service.CodeInternal), "submissions disabled")
		return
	}
	var req service.SubmitProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, string(service.CodeValidation), "invalid body")
		return
	}
	req.Submitter = submitterFrom(c)
	proposal, err := h.Proposals.Submit(c.Request.Context(), req)
	if err != nil {
		FailErr(c, err)
		return
	}
	Ok(c, proposal)
}

func (h *ProposalHandler) review(c *gin.Context) {
	if h.Review == nil {
		Fail(c, http.StatusServiceUnavailable, string(service.CodeInternal), "review disabled")
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Fail(c, http.StatusBadRequest, string(service.CodeValidation), "proposal id must be numeric")
		return
	}
	var req service.ReviewProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, string(service.CodeValidation), "invalid body")
		return
	}
	req.Actor = actorFrom(c)
	proposal, err := h.Review.ReviewProposal(c.Request.Context(), id, req)
	if err != nil {
		FailErr(c, err)
		return
	}
	Ok(c, proposal)
}

func submitterFrom(c *gin.Context) string {
	submitter := strings.TrimSpace(c.GetHeader("X-Submitter"))
	if submitter == "" {
		submitter = c.ClientIP()
	}
	return submitter
}

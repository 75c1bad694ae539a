package service

import (
	"context"
	"testing"

	"predmarket/internal/broker"
	"predmarket/internal/models"
)

func seedReviewable(repo *stubRepo) (*models.Proposal, *models.Market) {
	market := &models.Market{Status: "pending_review", Title: "Will X happen by 2027?"}
	_ = repo.InsertMarket(context.Background(), market)
	marketID := market.ID
	proposal := &models.Proposal{
		ProposalText:  "Will X happen by 2027?",
		Status:        "needs_human",
		DraftMarketID: &marketID,
	}
	_ = repo.InsertProposal(context.Background(), proposal)
	return proposal, market
}

func TestReviewProposal_Approve(t *testing.T) {
	repo := newStubRepo()
	pub := newStubPublisher()
	svc := &ReviewService{Repo: repo, Broker: pub}
	proposal, market := seedReviewable(repo)

	got, err := svc.ReviewProposal(context.Background(), proposal.ID, ReviewProposalRequest{
		Decision: "approve",
		Reason:   "ok",
		Actor:    "alice",
	})
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if got.Status != "approved" {
		t.Fatalf("proposal status=%s want=approved", got.Status)
	}
	if got.ProcessedAt == nil {
		t.Fatalf("processed_at not set")
	}
	if repo.markets[market.ID].Status != "active" {
		t.Fatalf("market status=%s want=active", repo.markets[market.ID].Status)
	}
	if repo.markets[market.ID].PublishedAt == nil {
		t.Fatalf("published_at not set")
	}
	if n := len(pub.published[broker.QueueMarketsPublish]); n != 1 {
		t.Fatalf("publish messages=%d want=1", n)
	}
	if len(repo.audits) != 1 {
		t.Fatalf("audit rows=%d want=1", len(repo.audits))
	}
	if repo.audits[0].Action != "proposal.approve" {
		t.Fatalf("audit action=%s", repo.audits[0].Action)
	}
}

func TestReviewProposal_ApproveWithModifications(t *testing.T) {
	repo := newStubRepo()
	svc := &ReviewService{Repo: repo}
	proposal, market := seedReviewable(repo)

	title := "Better title"
	_, err := svc.ReviewProposal(context.Background(), proposal.ID, ReviewProposalRequest{
		Decision:      "approve",
		Modifications: &ProposalModifications{Title: &title},
		Actor:         "alice",
	})
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if repo.markets[market.ID].Title != "Better title" {
		t.Fatalf("title=%q want modified", repo.markets[market.ID].Title)
	}
}

func TestReviewProposal_RejectRequiresReason(t *testing.T) {
	repo := newStubRepo()
	svc := &ReviewService{Repo: repo}
	proposal, market := seedReviewable(repo)

	_, err := svc.ReviewProposal(context.Background(), proposal.ID, ReviewProposalRequest{Decision: "reject"})
	var svcErr *Error
	if !asServiceError(err, &svcErr) || svcErr.Code != CodeValidation {
		t.Fatalf("err=%v want validation error", err)
	}
	if repo.proposals[proposal.ID].Status != "needs_human" {
		t.Fatalf("proposal mutated on rejected request")
	}
	if repo.markets[market.ID].Status != "pending_review" {
		t.Fatalf("market mutated on rejected request")
	}
}

func TestReviewProposal_Reject(t *testing.T) {
	repo := newStubRepo()
	svc := &ReviewService{Repo: repo}
	proposal, market := seedReviewable(repo)

	got, err := svc.ReviewProposal(context.Background(), proposal.ID, ReviewProposalRequest{
		Decision: "reject",
		Reason:   "ambiguous question",
		Actor:    "alice",
	})
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if got.Status != "rejected" {
		t.Fatalf("proposal status=%s want=rejected", got.Status)
	}
	if got.RejectionReason == nil || *got.RejectionReason != "ambiguous question" {
		t.Fatalf("rejection_reason=%v", got.RejectionReason)
	}
	if repo.markets[market.ID].Status != "canceled" {
		t.Fatalf("market status=%s want=canceled", repo.markets[market.ID].Status)
	}
	if len(repo.audits) != 1 || repo.audits[0].Action != "proposal.reject" {
		t.Fatalf("audits=%v", repo.audits)
	}
}

func TestReviewProposal_StateConflict(t *testing.T) {
	repo := newStubRepo()
	svc := &ReviewService{Repo: repo}
	proposal := &models.Proposal{ProposalText: "done already", Status: "approved"}
	_ = repo.InsertProposal(context.Background(), proposal)

	_, err := svc.ReviewProposal(context.Background(), proposal.ID, ReviewProposalRequest{
		Decision: "approve",
	})
	var svcErr *Error
	if !asServiceError(err, &svcErr) || svcErr.Code != CodeStateConflict {
		t.Fatalf("err=%v want state conflict", err)
	}
	if repo.proposals[proposal.ID].Status != "approved" {
		t.Fatalf("status changed on conflict")
	}
	if len(repo.audits) != 0 {
		t.Fatalf("audit written on conflict")
	}
}

func TestReviewProposal_NotFound(t *testing.T) {
	svc := &ReviewService{Repo: newStubRepo()}
	_, err := svc.ReviewProposal(context.Background(), 999, ReviewProposalRequest{Decision: "approve"})
	var svcErr *Error
	if !asServiceError(err, &svcErr) || svcErr.Code != CodeNotFound {
		t.Fatalf("err=%v want not found", err)
	}
}

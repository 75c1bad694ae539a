package service

import (
	"context"
	"testing"
	"time"

	"predmarket/internal/aiconfig"
	"predmarket/internal/broker"
	"predmarket/internal/models"
)

func seedDispute(repo *stubRepo, disputeStatus string) (*models.Dispute, *models.Resolution, *models.Market) {
	market := &models.Market{Status: "disputed", Title: "contested"}
	_ = repo.InsertMarket(context.Background(), market)
	resolution := &models.Resolution{
		MarketID:    market.ID,
		FinalResult: "YES",
		Status:      "pending",
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
	}
	_ = repo.InsertResolutionTx(context.Background(), nil, resolution)
	dispute := &models.Dispute{
		ResolutionID: resolution.ID,
		Status:       disputeStatus,
		Reason:       "sources disagree",
		CreatedAt:    time.Now().UTC(),
	}
	_ = repo.InsertDisputeTx(context.Background(), nil, dispute)
	return dispute, resolution, market
}

func TestReviewDispute_OverturnRequiresNewResult(t *testing.T) {
	repo := newStubRepo()
	svc := &DisputeService{Repo: repo}
	dispute, resolution, _ := seedDispute(repo, "reviewing")

	_, err := svc.ReviewDispute(context.Background(), dispute.ID, ReviewDisputeRequest{
		Decision: "overturn",
		Reason:   "wrong source",
	})
	var svcErr *Error
	if !asServiceError(err, &svcErr) || svcErr.Code != CodeValidation {
		t.Fatalf("err=%v want validation error", err)
	}
	// Validation happens before any row mutates.
	if repo.disputes[dispute.ID].Status != "reviewing" {
		t.Fatalf("dispute mutated on rejected request")
	}
	if repo.resolutions[resolution.ID].FinalResult != "YES" {
		t.Fatalf("resolution mutated on rejected request")
	}
}

func TestReviewDispute_Overturn(t *testing.T) {
	repo := newStubRepo()
	svc := &DisputeService{Repo: repo}
	dispute, resolution, market := seedDispute(repo, "reviewing")

	newResult := "NO"
	got, err := svc.ReviewDispute(context.Background(), dispute.ID, ReviewDisputeRequest{
		Decision:  "overturn",
		NewResult: &newResult,
		Reason:    "primary source says no",
		Actor:     "alice",
	})
	if err != nil {
		t.Fatalf("overturn failed: %v", err)
	}
	if got.Status != "overturned" {
		t.Fatalf("dispute status=%s want=overturned", got.Status)
	}
	if got.NewResult == nil || *got.NewResult != "NO" {
		t.Fatalf("new_result=%v want=NO", got.NewResult)
	}
	res := repo.resolutions[resolution.ID]
	if res.FinalResult != "NO" || res.Status != "finalized" {
		t.Fatalf("resolution=%s/%s want NO/finalized", res.FinalResult, res.Status)
	}
	if repo.markets[market.ID].Status != "finalized" {
		t.Fatalf("market status=%s want=finalized", repo.markets[market.ID].Status)
	}
	if len(repo.audits) != 1 || repo.audits[0].Action != "dispute.overturn" {
		t.Fatalf("audits=%v", repo.audits)
	}
}

func TestReviewDispute_Uphold(t *testing.T) {
	repo := newStubRepo()
	svc := &DisputeService{Repo: repo}
	dispute, resolution, market := seedDispute(repo, "pending")

	got, err := svc.ReviewDispute(context.Background(), dispute.ID, ReviewDisputeRequest{
		Decision: "uphold",
		Reason:   "resolution is correct",
		Actor:    "alice",
	})
	if err != nil {
		t.Fatalf("uphold failed: %v", err)
	}
	if got.Status != "upheld" {
		t.Fatalf("dispute status=%s want=upheld", got.Status)
	}
	res := repo.resolutions[resolution.ID]
	if res.FinalResult != "YES" {
		t.Fatalf("final_result changed on uphold")
	}
	if res.Status != "finalized" {
		t.Fatalf("resolution status=%s want=finalized", res.Status)
	}
	if repo.markets[market.ID].Status != "finalized" {
		t.Fatalf("market status=%s want=finalized", repo.markets[market.ID].Status)
	}
}

func TestReviewDispute_TerminalConflict(t *testing.T) {
	repo := newStubRepo()
	svc := &DisputeService{Repo: repo}
	dispute, _, _ := seedDispute(repo, "upheld")

	_, err := svc.ReviewDispute(context.Background(), dispute.ID, ReviewDisputeRequest{
		Decision: "uphold",
		Reason:   "again",
	})
	var svcErr *Error
	if !asServiceError(err, &svcErr) || svcErr.Code != CodeStateConflict {
		t.Fatalf("err=%v want state conflict", err)
	}
}

func TestOpenDispute_WithinWindow(t *testing.T) {
	repo := newStubRepo()
	pub := newStubPublisher()
	svc := &DisputeService{
		Repo:   repo,
		Broker: pub,
		Config: staticConfig{cfg: aiconfig.Defaults()},
	}
	market := &models.Market{Status: "resolved"}
	_ = repo.InsertMarket(context.Background(), market)
	resolution := &models.Resolution{
		MarketID:    market.ID,
		FinalResult: "YES",
		Status:      "pending",
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
	}
	_ = repo.InsertResolutionTx(context.Background(), nil, resolution)

	dispute, err := svc.OpenDispute(context.Background(), OpenDisputeRequest{
		ResolutionID: resolution.ID,
		Reason:       "evidence is stale",
		Disputant:    "bob",
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if dispute.Status != "pending" {
		t.Fatalf("dispute status=%s want=pending", dispute.Status)
	}
	if repo.markets[market.ID].Status != "disputed" {
		t.Fatalf("market status=%s want=disputed", repo.markets[market.ID].Status)
	}
	if n := len(pub.published[broker.QueueDisputes]); n != 1 {
		t.Fatalf("dispute messages=%d want=1", n)
	}
}

func TestOpenDispute_WindowClosed(t *testing.T) {
	repo := newStubRepo()
	svc := &DisputeService{Repo: repo, Config: staticConfig{cfg: aiconfig.Defaults()}}
	market := &models.Market{Status: "resolved"}
	_ = repo.InsertMarket(context.Background(), market)
	resolution := &models.Resolution{
		MarketID:    market.ID,
		FinalResult: "YES",
		Status:      "pending",
		CreatedAt:   time.Now().UTC().Add(-49 * time.Hour),
	}
	_ = repo.InsertResolutionTx(context.Background(), nil, resolution)

	_, err := svc.OpenDispute(context.Background(), OpenDisputeRequest{
		ResolutionID: resolution.ID,
		Reason:       "too late",
	})
	var svcErr *Error
	if !asServiceError(err, &svcErr) || svcErr.Code != CodeStateConflict {
		t.Fatalf("err=%v want state conflict", err)
	}
}

func TestOpenDispute_MarketConflictLeavesNoDispute(t *testing.T) {
	repo := newStubRepo()
	pub := newStubPublisher()
	svc := &DisputeService{Repo: repo, Broker: pub, Config: staticConfig{cfg: aiconfig.Defaults()}}
	market := &models.Market{Status: "finalized"}
	_ = repo.InsertMarket(context.Background(), market)
	resolution := &models.Resolution{
		MarketID:    market.ID,
		FinalResult: "YES",
		Status:      "pending",
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
	}
	_ = repo.InsertResolutionTx(context.Background(), nil, resolution)

	_, err := svc.OpenDispute(context.Background(), OpenDisputeRequest{
		ResolutionID: resolution.ID,
		Reason:       "contest",
	})
	var svcErr *Error
	if !asServiceError(err, &svcErr) || svcErr.Code != CodeStateConflict {
		t.Fatalf("err=%v want state conflict", err)
	}
	// The guarded market update runs first, so a conflict leaves no
	// dispute row and publishes nothing.
	if len(repo.disputes) != 0 {
		t.Fatalf("disputes=%d want=0", len(repo.disputes))
	}
	if n := len(pub.published[broker.QueueDisputes]); n != 0 {
		t.Fatalf("dispute messages=%d want=0", n)
	}
	if repo.markets[market.ID].Status != "finalized" {
		t.Fatalf("market status=%s want untouched finalized", repo.markets[market.ID].Status)
	}
}

func TestOpenDispute_OnlyOneActive(t *testing.T) {
	repo := newStubRepo()
	svc := &DisputeService{Repo: repo, Config: staticConfig{cfg: aiconfig.Defaults()}}
	dispute, resolution, _ := seedDispute(repo, "pending")
	_ = dispute

	_, err := svc.OpenDispute(context.Background(), OpenDisputeRequest{
		ResolutionID: resolution.ID,
		Reason:       "second contest",
	})
	var svcErr *Error
	if !asServiceError(err, &svcErr) || svcErr.Code != CodeStateConflict {
		t.Fatalf("err=%v want state conflict", err)
	}
}

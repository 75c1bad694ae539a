package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"predmarket/internal/broker"
	"predmarket/internal/lifecycle"
	"predmarket/internal/models"
	"predmarket/internal/repository"
)

// DisputeService governs contested resolutions: filing within the dispute
// window and final admin adjudication.
type DisputeService struct {
	Repo    repository.Repository
	Broker  Publisher
	Config  ConfigSource
	Limiter *RateLimiter
	Logger  *zap.Logger
}

type OpenDisputeRequest struct {
	ResolutionID uint64 `json:"resolution_id"`
	Reason       string `json:"reason"`
	Disputant    string `json:"-"`
}

// OpenDispute files a contest against a pending resolution. Only one
// non-terminal dispute may exist per resolution, and filing is allowed only
// inside the configured dispute window.
func (s *DisputeService) OpenDispute(ctx context.Context, req OpenDisputeRequest) (*models.Dispute, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, Validationf("reason is required")
	}
	resolution, err := s.Repo.GetResolutionByID(ctx, req.ResolutionID)
	if err != nil {
		return nil, err
	}
	if resolution == nil {
		return nil, NotFoundf("resolution %d not found", req.ResolutionID)
	}
	if resolution.Status != "pending" {
		return nil, StateConflictf("resolution %d is %s, only pending resolutions can be disputed", resolution.ID, resolution.Status)
	}
	windowHours := 48
	if s.Config != nil {
		windowHours = s.Config.Get(ctx).DisputeWindowHours
	}
	if time.Now().UTC().After(resolution.CreatedAt.Add(time.Duration(windowHours) * time.Hour)) {
		return nil, StateConflictf("dispute window of %d hours has closed for resolution %d", windowHours, resolution.ID)
	}
	active, err := s.Repo.CountActiveDisputesByResolution(ctx, resolution.ID)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, StateConflictf("resolution %d already has an open dispute", resolution.ID)
	}
	if s.Limiter != nil {
		verdict, err := s.Limiter.CanDispute(ctx, req.Disputant)
		if err != nil {
			return nil, err
		}
		if !verdict.Allowed {
			return nil, RateLimitedf("dispute limit reached: %d of %d per %s", verdict.CurrentCount, verdict.Limit, verdict.Window)
		}
	}

	item := &models.Dispute{
		ResolutionID: resolution.ID,
		Status:       string(lifecycle.DisputePending),
		Reason:       strings.TrimSpace(req.Reason),
		Disputant:    strings.TrimSpace(req.Disputant),
		CreatedAt:    time.Now().UTC(),
	}
	// Market first: the guarded update doubles as the status check, and a
	// conflict must leave no dispute row behind.
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.Repo.UpdateMarketStatusTx(ctx, tx, resolution.MarketID,
			[]string{string(lifecycle.MarketResolved), string(lifecycle.MarketResolving)},
			string(lifecycle.MarketDisputed), nil)
		if err != nil {
			return err
		}
		if rows == 0 {
			return StateConflictf("market %d cannot be disputed from its current status", resolution.MarketID)
		}
		return s.Repo.InsertDisputeTx(ctx, tx, item)
	})
	if err != nil {
		return nil, err
	}

	if s.Broker != nil {
		accepted, pubErr := s.Broker.Publish(ctx, broker.QueueDisputes, broker.DisputeMessage{
			DisputeID:    item.ID,
			ResolutionID: resolution.ID,
		})
		if pubErr != nil || !accepted {
			if s.Logger != nil {
				s.Logger.Warn("dispute message not accepted",
					zap.Uint64("dispute_id", item.ID),
					zap.Error(pubErr),
				)
			}
		}
	}
	return item, nil
}

type ReviewDisputeRequest struct {
	Decision  string  `json:"decision"`
	NewResult *string `json:"new_result,omitempty"`
	Reason    string  `json:"reason"`
	Actor     string  `json:"-"`
}

// ReviewDispute adjudicates a contested resolution. uphold finalizes the
// recorded result; overturn replaces it with new_result. All writes plus one
// audit entry commit atomically; no row mutates when validation fails.
func (s *DisputeService) ReviewDispute(ctx context.Context, id uint64, req ReviewDisputeRequest) (*models.Dispute, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	decision := strings.ToLower(strings.TrimSpace(req.Decision))
	switch decision {
	case "uphold", "overturn":
	default:
		return nil, Validationf("decision must be uphold or overturn")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, Validationf("reason is required")
	}
	var newResult lifecycle.Result
	if decision == "overturn" {
		if req.NewResult == nil {
			return nil, Validationf("overturn requires new_result")
		}
		newResult = lifecycle.Result(strings.ToUpper(strings.TrimSpace(*req.NewResult)))
		if !newResult.Valid() {
			return nil, Validationf("new_result must be YES or NO")
		}
	}

	dispute, err := s.Repo.GetDisputeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if dispute == nil {
		return nil, NotFoundf("dispute %d not found", id)
	}
	status := lifecycle.DisputeStatus(dispute.Status)
	if !status.Reviewable() {
		return nil, StateConflictf("dispute %d is %s and cannot be reviewed", id, dispute.Status)
	}
	resolution, err := s.Repo.GetResolutionByID(ctx, dispute.ResolutionID)
	if err != nil {
		return nil, err
	}
	if resolution == nil {
		return nil, NotFoundf("resolution %d not found for dispute %d", dispute.ResolutionID, id)
	}

	now := time.Now().UTC()
	reviewable := []string{
		string(lifecycle.DisputePending),
		string(lifecycle.DisputeEscalated),
		string(lifecycle.DisputeReviewing),
	}
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		disputeUpdates := map[string]any{
			"admin_review": strings.TrimSpace(req.Reason),
			"resolved_at":  now,
		}
		resolutionUpdates := map[string]any{
			"status":       "finalized",
			"finalized_at": now,
		}
		target := lifecycle.DisputeUpheld
		if decision == "overturn" {
			target = lifecycle.DisputeOverturned
			disputeUpdates["new_result"] = string(newResult)
			resolutionUpdates["final_result"] = string(newResult)
		}
		rows, err := s.Repo.UpdateDisputeStatusTx(ctx, tx, dispute.ID, reviewable, string(target), disputeUpdates)
		if err != nil {
			return err
		}
		if rows == 0 {
			return StateConflictf("dispute %d is no longer reviewable", dispute.ID)
		}
		if _, err := s.Repo.UpdateResolutionTx(ctx, tx, resolution.ID, resolutionUpdates); err != nil {
			return err
		}
		rows, err = s.Repo.UpdateMarketStatusTx(ctx, tx, resolution.MarketID,
			[]string{string(lifecycle.MarketResolved), string(lifecycle.MarketDisputed)},
			string(lifecycle.MarketFinalized),
			map[string]any{"finalized_at": now})
		if err != nil {
			return err
		}
		if rows == 0 {
			return StateConflictf("market %d cannot be finalized from its current status", resolution.MarketID)
		}
		return s.Repo.InsertAuditLogTx(ctx, tx, newAudit(req.Actor, "dispute."+decision, "dispute", dispute.ID, map[string]any{
			"reason":        req.Reason,
			"resolution_id": resolution.ID,
			"market_id":     resolution.MarketID,
			"new_result":    string(newResult),
		}))
	})
	if err != nil {
		return nil, err
	}
	return s.Repo.GetDisputeByID(ctx, id)
}

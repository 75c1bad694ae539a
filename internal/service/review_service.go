package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"predmarket/internal/broker"
	"predmarket/internal/lifecycle"
	"predmarket/internal/models"
	"predmarket/internal/repository"
)

// ReviewService drives the human-in-the-loop proposal review state machine.
// Every decision either fully succeeds (all writes plus one audit entry in a
// single transaction) or fully fails.
type ReviewService struct {
	Repo   repository.Repository
	Broker Publisher
	Logger *zap.Logger
}

type ProposalModifications struct {
	Title      *string                 `json:"title,omitempty"`
	Resolution *models.ResolutionRules `json:"resolution,omitempty"`
}

type ReviewProposalRequest struct {
	Decision      string                 `json:"decision"`
	Reason        string                 `json:"reason"`
	Modifications *ProposalModifications `json:"modifications,omitempty"`
	Actor         string                 `json:"-"`
}

// ReviewProposal applies an approve/reject decision to a needs_human
// proposal. Reviewing a proposal in any other state fails with a state
// conflict naming the current status and mutates nothing.
func (s *ReviewService) ReviewProposal(ctx context.Context, id uint64, req ReviewProposalRequest) (*models.Proposal, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	decision := strings.ToLower(strings.TrimSpace(req.Decision))
	switch decision {
	case "approve", "reject":
	default:
		return nil, Validationf("decision must be approve or reject")
	}
	if decision == "reject" && strings.TrimSpace(req.Reason) == "" {
		return nil, Validationf("reject requires a reason")
	}

	proposal, err := s.Repo.GetProposalByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, NotFoundf("proposal %d not found", id)
	}
	status := lifecycle.ProposalStatus(proposal.Status)
	if !status.Reviewable() {
		return nil, StateConflictf("proposal %d is %s, only needs_human proposals are reviewable", id, proposal.Status)
	}

	if decision == "approve" {
		return s.approve(ctx, proposal, req)
	}
	return s.reject(ctx, proposal, req)
}

func (s *ReviewService) approve(ctx context.Context, proposal *models.Proposal, req ReviewProposalRequest) (*models.Proposal, error) {
	now := time.Now().UTC()
	var marketID uint64
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if proposal.DraftMarketID != nil {
			marketID = *proposal.DraftMarketID
			marketUpdates := map[string]any{
				"published_at": now,
			}
			if req.Modifications != nil {
				if req.Modifications.Title != nil && strings.TrimSpace(*req.Modifications.Title) != "" {
					marketUpdates["title"] = strings.TrimSpace(*req.Modifications.Title)
				}
				if req.Modifications.Resolution != nil {
					raw, err := json.Marshal(req.Modifications.Resolution)
					if err != nil {
						return Validationf("resolution modifications not serializable")
					}
					marketUpdates["resolution"] = datatypes.JSON(raw)
					if !req.Modifications.Resolution.Expiry.IsZero() {
						marketUpdates["expires_at"] = req.Modifications.Resolution.Expiry.UTC()
					}
				}
			}
			rows, err := s.Repo.UpdateMarketStatusTx(ctx, tx, marketID,
				[]string{string(lifecycle.MarketDraft), string(lifecycle.MarketPendingReview)},
				string(lifecycle.MarketActive), marketUpdates)
			if err != nil {
				return err
			}
			if rows == 0 {
				return StateConflictf("market %d cannot be activated from its current status", marketID)
			}
		}
		rows, err := s.Repo.UpdateProposalStatusTx(ctx, tx, proposal.ID,
			[]string{string(lifecycle.ProposalNeedsHuman)},
			string(lifecycle.ProposalApproved),
			map[string]any{"processed_at": now})
		if err != nil {
			return err
		}
		if rows == 0 {
			return StateConflictf("proposal %d is no longer reviewable", proposal.ID)
		}
		return s.Repo.InsertAuditLogTx(ctx, tx, newAudit(req.Actor, "proposal.approve", "proposal", proposal.ID, map[string]any{
			"reason":    req.Reason,
			"market_id": marketID,
			"modified":  req.Modifications != nil,
		}))
	})
	if err != nil {
		return nil, err
	}

	if s.Broker != nil && marketID != 0 {
		accepted, pubErr := s.Broker.Publish(ctx, broker.QueueMarketsPublish, broker.MarketPublishMessage{
			DraftMarketID: marketID,
			ValidationID:  "admin-review",
		})
		if pubErr != nil || !accepted {
			if s.Logger != nil {
				s.Logger.Warn("publish message not accepted after approval",
					zap.Uint64("market_id", marketID),
					zap.Error(pubErr),
				)
			}
		}
	}

	return s.Repo.GetProposalByID(ctx, proposal.ID)
}

func (s *ReviewService) reject(ctx context.Context, proposal *models.Proposal, req ReviewProposalRequest) (*models.Proposal, error) {
	now := time.Now().UTC()
	reason := strings.TrimSpace(req.Reason)
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if proposal.DraftMarketID != nil {
			_, err := s.Repo.UpdateMarketStatusTx(ctx, tx, *proposal.DraftMarketID,
				[]string{string(lifecycle.MarketDraft), string(lifecycle.MarketPendingReview)},
				string(lifecycle.MarketCanceled), nil)
			if err != nil {
				return err
			}
		}
		rows, err := s.Repo.UpdateProposalStatusTx(ctx, tx, proposal.ID,
			[]string{string(lifecycle.ProposalNeedsHuman)},
			string(lifecycle.ProposalRejected),
			map[string]any{
				"rejection_reason": reason,
				"processed_at":     now,
			})
		if err != nil {
			return err
		}
		if rows == 0 {
			return StateConflictf("proposal %d is no longer reviewable", proposal.ID)
		}
		return s.Repo.InsertAuditLogTx(ctx, tx, newAudit(req.Actor, "proposal.reject", "proposal", proposal.ID, map[string]any{
			"reason": reason,
		}))
	})
	if err != nil {
		return nil, err
	}
	return s.Repo.GetProposalByID(ctx, proposal.ID)
}

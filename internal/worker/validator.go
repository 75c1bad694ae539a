package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"predmarket/internal/broker"
	"predmarket/internal/lifecycle"
	"predmarket/internal/models"
	"predmarket/internal/repository"
	"predmarket/internal/service"
)

// Validator scores drafted markets against the confidence threshold.
// Passing drafts go straight to active (AI-originated ones only within the
// auto-publish hourly window); everything else is parked for human review.
type Validator struct {
	Repo      repository.Repository
	Publisher service.Publisher
	Config    service.ConfigSource
	Limiter   *service.RateLimiter
	Logger    *zap.Logger
}

func (w *Validator) Handle(ctx context.Context, body []byte) error {
	if w == nil || w.Repo == nil {
		return nil
	}
	var msg broker.DraftValidateMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("malformed validate payload: %w", err)
	}
	market, err := w.Repo.GetMarketByID(ctx, msg.DraftMarketID)
	if err != nil {
		return err
	}
	if market == nil {
		if w.Logger != nil {
			w.Logger.Warn("validate references missing market", zap.Uint64("market_id", msg.DraftMarketID))
		}
		return nil
	}
	if market.Status != string(lifecycle.MarketDraft) {
		return nil
	}

	cfg := w.Config.Get(ctx)
	confidence, _ := market.ConfidenceScore.Float64()
	auto := confidence >= cfg.ValidationConfidenceThreshold
	if auto && market.SourceProposalID == nil && w.Limiter != nil {
		verdict, err := w.Limiter.CanAutoPublish(ctx)
		if err != nil {
			return err
		}
		if !verdict.Allowed {
			if w.Logger != nil {
				w.Logger.Info("auto-publish window exhausted, parking draft for review",
					zap.Uint64("market_id", market.ID),
					zap.Int64("current", verdict.CurrentCount),
					zap.Int("limit", verdict.Limit),
				)
			}
			auto = false
		}
	}

	if auto {
		return w.activate(ctx, market, msg.ProposalID)
	}
	return w.parkForReview(ctx, market, msg.ProposalID)
}

func (w *Validator) activate(ctx context.Context, market *models.Market, proposalID *uint64) error {
	now := time.Now().UTC()
	rows, err := w.Repo.UpdateMarketStatusTx(ctx, nil, market.ID,
		[]string{string(lifecycle.MarketDraft)},
		string(lifecycle.MarketActive),
		map[string]any{"published_at": now})
	if err != nil {
		return err
	}
	if rows == 0 {
		return nil
	}
	if proposalID != nil {
		_, err = w.Repo.UpdateProposalStatusTx(ctx, nil, *proposalID,
			[]string{string(lifecycle.ProposalPending)},
			string(lifecycle.ProposalApproved),
			map[string]any{"processed_at": now})
		if err != nil {
			return err
		}
	}
	if w.Publisher == nil {
		return nil
	}
	accepted, err := w.Publisher.Publish(ctx, broker.QueueMarketsPublish, broker.MarketPublishMessage{
		DraftMarketID: market.ID,
		ValidationID:  "auto",
	})
	if err != nil {
		return err
	}
	if !accepted && w.Logger != nil {
		w.Logger.Warn("publish message not accepted", zap.Uint64("market_id", market.ID))
	}
	return nil
}

func (w *Validator) parkForReview(ctx context.Context, market *models.Market, proposalID *uint64) error {
	rows, err := w.Repo.UpdateMarketStatusTx(ctx, nil, market.ID,
		[]string{string(lifecycle.MarketDraft)},
		string(lifecycle.MarketPendingReview), nil)
	if err != nil {
		return err
	}
	if rows == 0 {
		return nil
	}
	if proposalID != nil {
		_, err = w.Repo.UpdateProposalStatusTx(ctx, nil, *proposalID,
			[]string{string(lifecycle.ProposalPending)},
			string(lifecycle.ProposalNeedsHuman), nil)
		return err
	}
	// AI-originated drafts have no submitted proposal; create one directly
	// in needs_human so the review queue surfaces the draft.
	marketID := market.ID
	return w.Repo.InsertProposal(ctx, &models.Proposal{
		ProposalText:  market.Title,
		Status:        string(lifecycle.ProposalNeedsHuman),
		DraftMarketID: &marketID,
		Submitter:     "pipeline",
		CreatedAt:     time.Now().UTC(),
	})
}

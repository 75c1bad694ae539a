package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"predmarket/internal/broker"
	"predmarket/internal/lifecycle"
	"predmarket/internal/models"
	"predmarket/internal/repository"
)

// ProposalService accepts user market proposals into the pipeline, subject
// to the per-submitter propose rate limits.
type ProposalService struct {
	Repo    repository.Repository
	Broker  Publisher
	Limiter *RateLimiter
	Logger  *zap.Logger
}

type SubmitProposalRequest struct {
	ProposalText string  `json:"proposal_text"`
	CategoryHint *string `json:"category_hint,omitempty"`
	Submitter    string  `json:"-"`
}

func (s *ProposalService) Submit(ctx context.Context, req SubmitProposalRequest) (*models.Proposal, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	text := strings.TrimSpace(req.ProposalText)
	if text == "" {
		return nil, Validationf("proposal_text is required")
	}
	if len(text) > 4000 {
		return nil, Validationf("proposal_text exceeds 4000 characters")
	}
	if s.Limiter != nil {
		verdict, err := s.Limiter.CanPropose(ctx, req.Submitter)
		if err != nil {
			return nil, err
		}
		if !verdict.Allowed {
			return nil, RateLimitedf("proposal limit reached: %d of %d per %s", verdict.CurrentCount, verdict.Limit, verdict.Window)
		}
	}

	item := &models.Proposal{
		ProposalText: text,
		CategoryHint: req.CategoryHint,
		Status:       string(lifecycle.ProposalPending),
		Submitter:    strings.TrimSpace(req.Submitter),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.Repo.InsertProposal(ctx, item); err != nil {
		return nil, err
	}

	if s.Broker != nil {
		accepted, err := s.Broker.Publish(ctx, broker.QueueCandidates, broker.CandidateMessage{
			ProposalID: item.ID,
		})
		if err != nil || !accepted {
			if s.Logger != nil {
				s.Logger.Warn("candidate message not accepted",
					zap.Uint64("proposal_id", item.ID),
					zap.Error(err),
				)
			}
		}
	}
	return item, nil
}

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"predmarket/internal/broker"
	"predmarket/internal/client/llm"
	"predmarket/internal/lifecycle"
	"predmarket/internal/models"
	"predmarket/internal/repository"
	"predmarket/internal/service"
)

// Drafter turns raw source text into draft market rows. It consumes both the
// news ingestion queue and the user-proposal candidate queue; drafts from the
// latter carry the source proposal id.
type Drafter struct {
	Repo      repository.Repository
	Publisher service.Publisher
	Config    service.ConfigSource
	Completer llm.Completer
	ChainID   int64
	Logger    *zap.Logger
}

func (w *Drafter) HandleNews(ctx context.Context, body []byte) error {
	if w == nil || w.Repo == nil {
		return nil
	}
	var msg broker.NewsRawMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("malformed news payload: %w", err)
	}
	if msg.Headline == "" && msg.Body == "" {
		return nil
	}
	text := msg.Headline
	if msg.Body != "" {
		text += "\n\n" + msg.Body
	}
	if msg.SourceURL != "" {
		text += "\n\nSource: " + msg.SourceURL
	}
	market, err := w.draft(ctx, text, nil)
	if err != nil {
		return err
	}
	return w.enqueueValidation(ctx, market.ID, nil)
}

func (w *Drafter) HandleCandidate(ctx context.Context, body []byte) error {
	if w == nil || w.Repo == nil {
		return nil
	}
	var msg broker.CandidateMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("malformed candidate payload: %w", err)
	}
	proposal, err := w.Repo.GetProposalByID(ctx, msg.ProposalID)
	if err != nil {
		return err
	}
	if proposal == nil {
		if w.Logger != nil {
			w.Logger.Warn("candidate references missing proposal", zap.Uint64("proposal_id", msg.ProposalID))
		}
		return nil
	}
	// Redelivery after a crash between draft insert and ack: the proposal
	// already points at its draft, nothing to redo.
	if proposal.Status != string(lifecycle.ProposalPending) || proposal.DraftMarketID != nil {
		return nil
	}
	text := proposal.ProposalText
	if proposal.CategoryHint != nil {
		text += "\n\nSuggested category: " + *proposal.CategoryHint
	}
	market, err := w.draft(ctx, text, &proposal.ID)
	if err != nil {
		return err
	}
	_, err = w.Repo.UpdateProposalStatusTx(ctx, nil, proposal.ID,
		[]string{string(lifecycle.ProposalPending)},
		string(lifecycle.ProposalPending),
		map[string]any{"draft_market_id": market.ID})
	if err != nil {
		return err
	}
	return w.enqueueValidation(ctx, market.ID, &proposal.ID)
}

func (w *Drafter) draft(ctx context.Context, text string, sourceProposalID *uint64) (*models.Market, error) {
	cfg := w.Config.Get(ctx)
	draft, err := llm.DraftMarket(ctx, w.Completer, cfg.LLMModel, text, cfg.Categories)
	if err != nil {
		return nil, fmt.Errorf("drafting failed: %w", err)
	}
	expiry, err := draft.ExpiryTime()
	if err != nil || !expiry.After(time.Now().UTC()) {
		return nil, fmt.Errorf("draft expiry %q is not a future timestamp", draft.Expiry)
	}
	rules := models.ResolutionRules{
		ExactQuestion:  draft.ExactQuestion,
		MustMeetAll:    draft.MustMeetAll,
		MustNotCount:   draft.MustNotCount,
		AllowedSources: draft.AllowedSources,
		Expiry:         expiry,
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		return nil, err
	}
	market := &models.Market{
		ChainID:          w.ChainID,
		Title:            draft.Title,
		Description:      draft.Description,
		Category:         draft.Category,
		Resolution:       datatypes.JSON(raw),
		ConfidenceScore:  decimal.NewFromFloat(draft.ConfidenceScore),
		Status:           string(lifecycle.MarketDraft),
		SourceProposalID: sourceProposalID,
		ExpiresAt:        &expiry,
	}
	if err := w.Repo.InsertMarket(ctx, market); err != nil {
		return nil, err
	}
	return market, nil
}

func (w *Drafter) enqueueValidation(ctx context.Context, marketID uint64, proposalID *uint64) error {
	if w.Publisher == nil {
		return nil
	}
	accepted, err := w.Publisher.Publish(ctx, broker.QueueDraftsValidate, broker.DraftValidateMessage{
		DraftMarketID: marketID,
		ProposalID:    proposalID,
	})
	if err != nil {
		return err
	}
	if !accepted && w.Logger != nil {
		w.Logger.Warn("validate message not accepted", zap.Uint64("market_id", marketID))
	}
	return nil
}

package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"predmarket/internal/broker"
	"predmarket/internal/client/chain"
	"predmarket/internal/lifecycle"
	"predmarket/internal/repository"
)

// Publisher creates activated markets on-chain and writes back the resulting
// address. Redeliveries of already-published markets are acked untouched.
type Publisher struct {
	Repo   repository.Repository
	Chain  chain.Creator
	Logger *zap.Logger
}

func (w *Publisher) Handle(ctx context.Context, body []byte) error {
	if w == nil || w.Repo == nil {
		return nil
	}
	var msg broker.MarketPublishMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("malformed publish payload: %w", err)
	}
	market, err := w.Repo.GetMarketByID(ctx, msg.DraftMarketID)
	if err != nil {
		return err
	}
	if market == nil {
		if w.Logger != nil {
			w.Logger.Warn("publish references missing market", zap.Uint64("market_id", msg.DraftMarketID))
		}
		return nil
	}
	if market.MarketAddress != nil {
		return nil
	}
	if market.Status != string(lifecycle.MarketActive) {
		if w.Logger != nil {
			w.Logger.Warn("publish skipped, market not active",
				zap.Uint64("market_id", market.ID),
				zap.String("status", market.Status),
			)
		}
		return nil
	}
	if w.Chain == nil {
		return fmt.Errorf("no chain client configured")
	}

	req := chain.CreateMarketRequest{
		ChainID:     market.ChainID,
		Title:       market.Title,
		Description: market.Description,
		Category:    market.Category,
		ExternalID:  fmt.Sprintf("market-%d", market.ID),
	}
	if market.ExpiresAt != nil {
		req.ExpiresAt = *market.ExpiresAt
	}
	result, err := w.Chain.CreateMarket(ctx, req)
	if err != nil {
		return fmt.Errorf("on-chain create failed for market %d: %w", market.ID, err)
	}
	if err := w.Repo.UpdateMarketFieldsTx(ctx, nil, market.ID, map[string]any{
		"market_address": result.MarketAddress,
	}); err != nil {
		return err
	}
	if w.Logger != nil {
		w.Logger.Info("market published on-chain",
			zap.Uint64("market_id", market.ID),
			zap.String("market_address", result.MarketAddress),
			zap.String("validation_id", msg.ValidationID),
		)
	}
	return nil
}

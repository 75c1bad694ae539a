package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"predmarket/internal/broker"
	"predmarket/internal/lifecycle"
	"predmarket/internal/repository"
)

// DisputeWatcher moves freshly opened disputes into reviewing so they land
// in the admin queue.
type DisputeWatcher struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

func (w *DisputeWatcher) Handle(ctx context.Context, body []byte) error {
	if w == nil || w.Repo == nil {
		return nil
	}
	var msg broker.DisputeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("malformed dispute payload: %w", err)
	}
	dispute, err := w.Repo.GetDisputeByID(ctx, msg.DisputeID)
	if err != nil {
		return err
	}
	if dispute == nil {
		if w.Logger != nil {
			w.Logger.Warn("dispute message references missing dispute", zap.Uint64("dispute_id", msg.DisputeID))
		}
		return nil
	}
	if dispute.Status != string(lifecycle.DisputePending) {
		return nil
	}
	rows, err := w.Repo.UpdateDisputeStatusTx(ctx, nil, dispute.ID,
		[]string{string(lifecycle.DisputePending)},
		string(lifecycle.DisputeReviewing), nil)
	if err != nil {
		return err
	}
	if rows > 0 && w.Logger != nil {
		w.Logger.Info("dispute queued for review",
			zap.Uint64("dispute_id", dispute.ID),
			zap.Uint64("resolution_id", dispute.ResolutionID),
		)
	}
	return nil
}

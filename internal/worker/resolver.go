package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"predmarket/internal/broker"
	"predmarket/internal/client/llm"
	"predmarket/internal/lifecycle"
	"predmarket/internal/models"
	"predmarket/internal/repository"
	"predmarket/internal/service"
)

// Resolver settles expired markets. A scheduled scan enqueues due markets;
// the consumer obtains a YES/NO judgment with evidence and records it as a
// pending resolution, which finalizes after the dispute window lapses
// undisputed.
type Resolver struct {
	Repo      repository.Repository
	Publisher service.Publisher
	Config    service.ConfigSource
	Completer llm.Completer
	Logger    *zap.Logger
	Now       func() time.Time
}

func (w *Resolver) now() time.Time {
	if w != nil && w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}

// ScanOnce enqueues a resolve message for every active market past expiry.
func (w *Resolver) ScanOnce(ctx context.Context) error {
	if w == nil || w.Repo == nil || w.Publisher == nil {
		return nil
	}
	due, err := w.Repo.ListMarketsDueForResolution(ctx, w.now(), 100)
	if err != nil {
		return err
	}
	for _, market := range due {
		accepted, err := w.Publisher.Publish(ctx, broker.QueueMarketsResolve, broker.MarketResolveMessage{
			MarketID: market.ID,
		})
		if err != nil {
			return err
		}
		if !accepted && w.Logger != nil {
			w.Logger.Warn("resolve message not accepted", zap.Uint64("market_id", market.ID))
		}
	}
	if len(due) > 0 && w.Logger != nil {
		w.Logger.Info("enqueued expired markets for resolution", zap.Int("count", len(due)))
	}
	return nil
}

func (w *Resolver) Handle(ctx context.Context, body []byte) error {
	if w == nil || w.Repo == nil {
		return nil
	}
	var msg broker.MarketResolveMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("malformed resolve payload: %w", err)
	}
	market, err := w.Repo.GetMarketByID(ctx, msg.MarketID)
	if err != nil {
		return err
	}
	if market == nil {
		if w.Logger != nil {
			w.Logger.Warn("resolve references missing market", zap.Uint64("market_id", msg.MarketID))
		}
		return nil
	}
	switch market.Status {
	case string(lifecycle.MarketActive):
		rows, err := w.Repo.UpdateMarketStatusTx(ctx, nil, market.ID,
			[]string{string(lifecycle.MarketActive)},
			string(lifecycle.MarketResolving), nil)
		if err != nil {
			return err
		}
		if rows == 0 {
			return nil
		}
	case string(lifecycle.MarketResolving):
		// Redelivery mid-resolution; fall through and retry the judgment.
	default:
		return nil
	}

	existing, err := w.Repo.GetResolutionByMarketID(ctx, market.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		_, err = w.Repo.UpdateMarketStatusTx(ctx, nil, market.ID,
			[]string{string(lifecycle.MarketResolving)},
			string(lifecycle.MarketResolved),
			map[string]any{"resolved_at": w.now()})
		return err
	}

	cfg := w.Config.Get(ctx)
	judgment, err := llm.ResolveMarket(ctx, w.Completer, cfg.LLMModel, string(market.Resolution))
	if err != nil {
		return fmt.Errorf("resolution failed for market %d: %w", market.ID, err)
	}
	sum := sha256.Sum256([]byte(judgment.Evidence))
	mustMeet, _ := json.Marshal(judgment.MustMeetAllResults)
	mustNot, _ := json.Marshal(judgment.MustNotCountResults)
	now := w.now()

	return w.Repo.InTx(ctx, func(tx *gorm.DB) error {
		resolution := &models.Resolution{
			MarketID:            market.ID,
			FinalResult:         judgment.FinalResult,
			Status:              "pending",
			EvidenceHash:        hex.EncodeToString(sum[:]),
			EvidenceRaw:         judgment.Evidence,
			MustMeetAllResults:  datatypes.JSON(mustMeet),
			MustNotCountResults: datatypes.JSON(mustNot),
			ResolutionSource:    judgment.ResolutionSource,
			CreatedAt:           now,
		}
		if err := w.Repo.InsertResolutionTx(ctx, tx, resolution); err != nil {
			return err
		}
		rows, err := w.Repo.UpdateMarketStatusTx(ctx, tx, market.ID,
			[]string{string(lifecycle.MarketResolving)},
			string(lifecycle.MarketResolved),
			map[string]any{"resolved_at": now})
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("market %d left resolving during resolution", market.ID)
		}
		return nil
	})
}

// FinalizeDue finalizes pending resolutions whose dispute window lapsed with
// no open dispute.
func (w *Resolver) FinalizeDue(ctx context.Context) error {
	if w == nil || w.Repo == nil {
		return nil
	}
	windowHours := 48
	if w.Config != nil {
		windowHours = w.Config.Get(ctx).DisputeWindowHours
	}
	now := w.now()
	cutoff := now.Add(-time.Duration(windowHours) * time.Hour)
	due, err := w.Repo.ListPendingResolutionsBefore(ctx, cutoff, 100)
	if err != nil {
		return err
	}
	for _, resolution := range due {
		active, err := w.Repo.CountActiveDisputesByResolution(ctx, resolution.ID)
		if err != nil {
			return err
		}
		if active > 0 {
			continue
		}
		resolution := resolution
		err = w.Repo.InTx(ctx, func(tx *gorm.DB) error {
			rows, err := w.Repo.UpdateResolutionTx(ctx, tx, resolution.ID, map[string]any{
				"status":       "finalized",
				"finalized_at": now,
			})
			if err != nil {
				return err
			}
			if rows == 0 {
				return nil
			}
			_, err = w.Repo.UpdateMarketStatusTx(ctx, tx, resolution.MarketID,
				[]string{string(lifecycle.MarketResolved)},
				string(lifecycle.MarketFinalized),
				map[string]any{"finalized_at": now})
			return err
		})
		if err != nil {
			return err
		}
		if w.Logger != nil {
			w.Logger.Info("resolution finalized after undisputed window",
				zap.Uint64("resolution_id", resolution.ID),
				zap.Uint64("market_id", resolution.MarketID),
			)
		}
	}
	return nil
}

package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"predmarket/internal/aiconfig"
	"predmarket/internal/broker"
	"predmarket/internal/models"
	"predmarket/internal/repository"
)

// ConfigService exposes the pipeline configuration for admin reads and
// atomic partial updates. Updates persist to pipeline_settings, drop the
// local cache, and broadcast a refresh so every instance reloads.
type ConfigService struct {
	Repo   repository.Repository
	Cache  *aiconfig.Cache
	Broker Publisher
	Logger *zap.Logger
}

func (s *ConfigService) Get(ctx context.Context) aiconfig.AIConfig {
	if s == nil || s.Cache == nil {
		return aiconfig.Defaults()
	}
	return s.Cache.Get(ctx)
}

// Update applies a partial override set. Every key validates against its
// bounds before anything persists; a single violation rejects the whole
// request. The settings rows plus one audit entry commit in one transaction.
func (s *ConfigService) Update(ctx context.Context, updates map[string]any, actor string) (aiconfig.AIConfig, error) {
	if s == nil || s.Repo == nil {
		return aiconfig.Defaults(), nil
	}
	if len(updates) == 0 {
		return aiconfig.AIConfig{}, Validationf("no configuration keys provided")
	}
	cfg := s.Get(ctx)
	changed, err := aiconfig.ApplyOverrides(&cfg, updates)
	if err != nil {
		if verr, ok := err.(*aiconfig.ValidationError); ok {
			return aiconfig.AIConfig{}, Validationf("%s", verr.Error())
		}
		return aiconfig.AIConfig{}, err
	}
	rows, err := aiconfig.MarshalKeys(cfg, changed)
	if err != nil {
		return aiconfig.AIConfig{}, err
	}

	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		for _, key := range changed {
			item := &models.PipelineSetting{Key: key, Value: rows[key]}
			if err := s.Repo.UpsertPipelineSettingTx(ctx, tx, item); err != nil {
				return err
			}
		}
		return s.Repo.InsertAuditLogTx(ctx, tx, newAudit(actor, "ai_config.update", "ai_config", 0, map[string]any{
			"updated_keys": changed,
		}))
	})
	if err != nil {
		return aiconfig.AIConfig{}, err
	}

	if s.Cache != nil {
		s.Cache.Invalidate()
	}
	if s.Broker != nil {
		accepted, pubErr := s.Broker.Publish(ctx, broker.QueueConfigRefresh, broker.ConfigRefreshMessage{
			UpdatedKeys: changed,
			UpdatedAt:   time.Now().UTC(),
		})
		if pubErr != nil || !accepted {
			if s.Logger != nil {
				s.Logger.Warn("config refresh broadcast not accepted", zap.Error(pubErr))
			}
		}
	}
	return cfg, nil
}

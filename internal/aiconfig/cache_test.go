package aiconfig

import (
	"context"
	"errors"
	"testing"
	"time"

	"predmarket/internal/models"
	"predmarket/internal/repository"
)

// settingsRepo serves canned pipeline_settings rows; every other repository
// method panics through the nil embedded interface, which no cache path hits.
type settingsRepo struct {
	repository.Repository
	rows  []models.PipelineSetting
	err   error
	loads int
}

func (r *settingsRepo) ListPipelineSettings(ctx context.Context) ([]models.PipelineSetting, error) {
	r.loads++
	if r.err != nil {
		return nil, r.err
	}
	return r.rows, nil
}

func settingRow(key, value string) models.PipelineSetting {
	return models.PipelineSetting{Key: key, Value: []byte(value)}
}

func cacheWith(repo *settingsRepo, now *time.Time) *Cache {
	c := NewCache(repo, nil)
	c.Now = func() time.Time { return *now }
	return c
}

func TestCacheServesUntilTTL(t *testing.T) {
	now := time.Now().UTC()
	repo := &settingsRepo{rows: []models.PipelineSetting{settingRow("dispute_window_hours", "24")}}
	c := cacheWith(repo, &now)

	cfg := c.Get(context.Background())
	if cfg.DisputeWindowHours != 24 {
		t.Fatalf("window=%d want 24", cfg.DisputeWindowHours)
	}
	if repo.loads != 1 {
		t.Fatalf("loads=%d want 1", repo.loads)
	}

	repo.rows = []models.PipelineSetting{settingRow("dispute_window_hours", "72")}
	now = now.Add(c.TTL - time.Second)
	if cfg := c.Get(context.Background()); cfg.DisputeWindowHours != 24 {
		t.Fatalf("window=%d want cached 24", cfg.DisputeWindowHours)
	}
	if repo.loads != 1 {
		t.Fatalf("loads=%d want 1 inside ttl", repo.loads)
	}

	now = now.Add(2 * time.Second)
	if cfg := c.Get(context.Background()); cfg.DisputeWindowHours != 72 {
		t.Fatalf("window=%d want reloaded 72", cfg.DisputeWindowHours)
	}
	if repo.loads != 2 {
		t.Fatalf("loads=%d want 2 after ttl", repo.loads)
	}
}

func TestCacheInvalidateForcesReload(t *testing.T) {
	now := time.Now().UTC()
	repo := &settingsRepo{rows: []models.PipelineSetting{settingRow("max_retries", "5")}}
	c := cacheWith(repo, &now)

	if cfg := c.Get(context.Background()); cfg.MaxRetries != 5 {
		t.Fatalf("max_retries=%d want 5", cfg.MaxRetries)
	}
	repo.rows = []models.PipelineSetting{settingRow("max_retries", "1")}
	c.Invalidate()
	if cfg := c.Get(context.Background()); cfg.MaxRetries != 1 {
		t.Fatalf("max_retries=%d want 1 after invalidate", cfg.MaxRetries)
	}
}

func TestCacheLoadFailureServesDefaults(t *testing.T) {
	now := time.Now().UTC()
	repo := &settingsRepo{err: errors.New("db down")}
	c := cacheWith(repo, &now)

	cfg := c.Get(context.Background())
	if cfg.DisputeWindowHours != Defaults().DisputeWindowHours {
		t.Fatalf("window=%d want default", cfg.DisputeWindowHours)
	}

	// Recovery on the next call once the store answers again.
	repo.err = nil
	repo.rows = []models.PipelineSetting{settingRow("dispute_window_hours", "12")}
	if cfg := c.Get(context.Background()); cfg.DisputeWindowHours != 12 {
		t.Fatalf("window=%d want 12 after recovery", cfg.DisputeWindowHours)
	}
}

func TestCacheIgnoresMalformedRows(t *testing.T) {
	now := time.Now().UTC()
	repo := &settingsRepo{rows: []models.PipelineSetting{
		settingRow("dispute_window_hours", `"not a number"`),
		settingRow("llm_model", `"gpt-4o"`),
	}}
	c := cacheWith(repo, &now)

	cfg := c.Get(context.Background())
	if cfg.DisputeWindowHours != Defaults().DisputeWindowHours {
		t.Fatalf("window=%d want default on malformed row", cfg.DisputeWindowHours)
	}
	if cfg.LLMModel != "gpt-4o" {
		t.Fatalf("llm_model=%q want gpt-4o", cfg.LLMModel)
	}
}

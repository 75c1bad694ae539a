package aiconfig

import (
	"errors"
	"testing"
)

func TestApplyOverridesChangesKeys(t *testing.T) {
	cfg := Defaults()
	changed, err := ApplyOverrides(&cfg, map[string]any{
		"validation_confidence_threshold": 0.9,
		"dispute_window_hours":            24,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(changed) != 2 || changed[0] != "dispute_window_hours" || changed[1] != "validation_confidence_threshold" {
		t.Fatalf("changed=%v want sorted key pair", changed)
	}
	if cfg.ValidationConfidenceThreshold != 0.9 {
		t.Fatalf("threshold=%v want 0.9", cfg.ValidationConfidenceThreshold)
	}
	if cfg.DisputeWindowHours != 24 {
		t.Fatalf("window=%d want 24", cfg.DisputeWindowHours)
	}
}

func TestApplyOverridesAtomicRejection(t *testing.T) {
	cfg := Defaults()
	before := cfg
	_, err := ApplyOverrides(&cfg, map[string]any{
		"dispute_window_hours":            24,
		"validation_confidence_threshold": 1.5,
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err=%v want ValidationError", err)
	}
	if verr.Field != "validation_confidence_threshold" {
		t.Fatalf("field=%q", verr.Field)
	}
	if cfg.DisputeWindowHours != before.DisputeWindowHours {
		t.Fatalf("window=%d want untouched %d", cfg.DisputeWindowHours, before.DisputeWindowHours)
	}
	if cfg.ValidationConfidenceThreshold != before.ValidationConfidenceThreshold {
		t.Fatalf("threshold mutated on rejected update")
	}
}

func TestApplyOverridesUnknownKey(t *testing.T) {
	cfg := Defaults()
	_, err := ApplyOverrides(&cfg, map[string]any{"unknown_key": 1})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err=%v want ValidationError", err)
	}
	if verr.Field != "unknown_key" {
		t.Fatalf("field=%q", verr.Field)
	}
}

func TestApplyOverridesModelAllowList(t *testing.T) {
	cfg := Defaults()
	if _, err := ApplyOverrides(&cfg, map[string]any{"llm_model": "gpt-4o"}); err != nil {
		t.Fatalf("allowed model rejected: %v", err)
	}
	if cfg.LLMModel != "gpt-4o" {
		t.Fatalf("llm_model=%q", cfg.LLMModel)
	}
	if _, err := ApplyOverrides(&cfg, map[string]any{"llm_model": "gpt-2"}); err == nil {
		t.Fatalf("unlisted model accepted")
	}
	if cfg.LLMModel != "gpt-4o" {
		t.Fatalf("llm_model=%q want unchanged", cfg.LLMModel)
	}
}

func TestApplyOverridesWindowBounds(t *testing.T) {
	for _, hours := range []int{0, 169, -1} {
		cfg := Defaults()
		if _, err := ApplyOverrides(&cfg, map[string]any{"dispute_window_hours": hours}); err == nil {
			t.Errorf("dispute_window_hours=%d accepted", hours)
		}
	}
	cfg := Defaults()
	if _, err := ApplyOverrides(&cfg, map[string]any{"dispute_window_hours": 168}); err != nil {
		t.Fatalf("boundary rejected: %v", err)
	}
}

func TestApplyOverridesRateLimits(t *testing.T) {
	cfg := Defaults()
	_, err := ApplyOverrides(&cfg, map[string]any{
		"rate_limits": map[string]any{"propose_per_minute": 5},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.RateLimits.ProposePerMinute != 5 {
		t.Fatalf("propose_per_minute=%d want 5", cfg.RateLimits.ProposePerMinute)
	}
	// Partial objects keep the untouched limits.
	if cfg.RateLimits.AutoPublishPerHour != Defaults().RateLimits.AutoPublishPerHour {
		t.Fatalf("auto_publish_per_hour=%d want default", cfg.RateLimits.AutoPublishPerHour)
	}
	if _, err := ApplyOverrides(&cfg, map[string]any{
		"rate_limits": map[string]any{"dispute_per_day": -1},
	}); err == nil {
		t.Fatalf("negative limit accepted")
	}
}

func TestMarshalKeys(t *testing.T) {
	cfg := Defaults()
	cfg.DisputeWindowHours = 24
	rows, err := MarshalKeys(cfg, []string{"dispute_window_hours", "llm_model"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got := string(rows["dispute_window_hours"]); got != "24" {
		t.Fatalf("dispute_window_hours=%s want 24", got)
	}
	if got := string(rows["llm_model"]); got != `"gpt-4o-mini"` {
		t.Fatalf("llm_model=%s", got)
	}
	if _, err := MarshalKeys(cfg, []string{"nope"}); err == nil {
		t.Fatalf("unknown key marshaled")
	}
}
